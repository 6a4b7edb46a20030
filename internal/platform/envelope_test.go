package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnwrapEnvelopePrefersDoubleNestedJSON(t *testing.T) {
	body := []byte(`{"result":{"data":{"json":{"projectId":"p1"}}}}`)
	raw, code, err := unwrapEnvelope(body)
	require.NoError(t, err)
	require.Empty(t, code)
	require.JSONEq(t, `{"projectId":"p1"}`, string(raw))
}

func TestUnwrapEnvelopeFallsBackToResultData(t *testing.T) {
	body := []byte(`{"result":{"data":{"projectId":"p1"}}}`)
	raw, _, err := unwrapEnvelope(body)
	require.NoError(t, err)
	require.JSONEq(t, `{"projectId":"p1"}`, string(raw))
}

func TestUnwrapEnvelopeFallsBackToBareResult(t *testing.T) {
	body := []byte(`{"result":"ok"}`)
	raw, _, err := unwrapEnvelope(body)
	require.NoError(t, err)
	require.Equal(t, `"ok"`, string(raw))
}

func TestUnwrapEnvelopeUnwrapsBatchArray(t *testing.T) {
	body := []byte(`[{"result":{"data":{"json":{"ok":true}}}}]`)
	raw, _, err := unwrapEnvelope(body)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestUnwrapEnvelopeSurfacesError(t *testing.T) {
	body := []byte(`{"error":{"message":"not found","data":{"code":"NOT_FOUND"}}}`)
	_, code, err := unwrapEnvelope(body)
	require.Error(t, err)
	require.Equal(t, "NOT_FOUND", code)

	var pe *platformError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "not found", pe.Message)
}

func TestUnwrapEnvelopeErrorWithoutCodeDefaultsInternal(t *testing.T) {
	body := []byte(`{"error":{"message":"boom"}}`)
	_, code, err := unwrapEnvelope(body)
	require.Error(t, err)
	require.Equal(t, "INTERNAL_SERVER_ERROR", code)
}

func TestUnwrapEnvelopeMissingResult(t *testing.T) {
	body := []byte(`{}`)
	_, _, err := unwrapEnvelope(body)
	require.ErrorIs(t, err, errMissingResult)
}
