package platform

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/errs"
)

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, statusForCode("UNAUTHORIZED"))
	require.Equal(t, http.StatusNotFound, statusForCode("NOT_FOUND"))
	require.Equal(t, http.StatusConflict, statusForCode("CONFLICT"))
	require.Equal(t, http.StatusBadGateway, statusForCode("SOMETHING_UNKNOWN"))
}

func TestIsRetryableCode(t *testing.T) {
	require.False(t, isRetryableCode("CONFLICT"))
	require.False(t, isRetryableCode("BAD_REQUEST"))
	require.True(t, isRetryableCode("INTERNAL_SERVER_ERROR"))
}

func TestIsRetryableStatus(t *testing.T) {
	require.True(t, isRetryableStatus(http.StatusServiceUnavailable))
	require.True(t, isRetryableStatus(http.StatusTooManyRequests))
	require.False(t, isRetryableStatus(http.StatusBadRequest))
	require.False(t, isRetryableStatus(http.StatusNotFound))
}

func TestToRuntimeErrorPassesThroughExistingRuntimeError(t *testing.T) {
	original := errs.New(400, errs.CodeBadRequest, "bad")
	re := toRuntimeError("project.all", original)
	require.Same(t, original, re)
}

func TestToRuntimeErrorMapsPlatformError(t *testing.T) {
	pe := &platformError{Code: "NOT_FOUND", Message: "compose missing"}
	re := toRuntimeError("compose.one", pe)
	require.Equal(t, http.StatusNotFound, re.Status)
	require.Equal(t, "NOT_FOUND", re.Code)
	require.Equal(t, "compose missing", re.Message)
}

func TestToRuntimeErrorWrapsUnknownError(t *testing.T) {
	re := toRuntimeError("compose.deploy", errors.New("dial tcp: timeout"))
	require.Equal(t, 502, re.Status)
	require.Equal(t, errs.CodeNetworkError, re.Code)
}
