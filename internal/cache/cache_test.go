package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
)

func TestDisabledCacheIsNilSafe(t *testing.T) {
	c := New("", 0)
	ctx := context.Background()

	entries, hit := c.Get(ctx, "tok", "/src")
	require.False(t, hit)
	require.Nil(t, entries)

	c.Set(ctx, "tok", "/src", []platform.FileEntry{{Name: "App.jsx"}})
	c.Invalidate(ctx, "tok", "/src")
	c.InvalidateToken(ctx, "tok")
	require.NoError(t, c.Close())
}

func TestKeyIsScopedByTokenAndPath(t *testing.T) {
	require.NotEqual(t, key("tok-a", "/src"), key("tok-b", "/src"))
	require.NotEqual(t, key("tok-a", "/src"), key("tok-a", "/other"))
}
