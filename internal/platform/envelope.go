package platform

import "encoding/json"

// envelope models the platform's batched-trpc response shape: either a
// bare object or a single-element array wrapping one, each holding
// either {error:{message,data:{code}}} or a nested {result:{data:...}}.
// spec.md §4.2 fixes the unwrap precedence: result.data.json ->
// result.data -> result.
type envelope struct {
	Error  *envelopeError  `json:"error"`
	Result json.RawMessage `json:"result"`
}

type envelopeError struct {
	Message string             `json:"message"`
	Data    *envelopeErrorData `json:"data"`
}

type envelopeErrorData struct {
	Code string `json:"code"`
}

type resultShape struct {
	Data json.RawMessage `json:"data"`
}

type dataShape struct {
	JSON json.RawMessage `json:"json"`
}

// unwrapEnvelope decodes a raw HTTP body into the single envelope it
// carries (unwrapping the batch array form) and returns the innermost
// payload per the result.data.json -> result.data -> result precedence,
// or the platform-level error code if the envelope carried one.
func unwrapEnvelope(body []byte) (json.RawMessage, string, error) {
	var asArray []envelope
	if err := json.Unmarshal(body, &asArray); err == nil && len(asArray) > 0 {
		return unwrapOne(asArray[0])
	}

	var single envelope
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, "", err
	}
	return unwrapOne(single)
}

func unwrapOne(e envelope) (json.RawMessage, string, error) {
	if e.Error != nil {
		code := "INTERNAL_SERVER_ERROR"
		if e.Error.Data != nil && e.Error.Data.Code != "" {
			code = e.Error.Data.Code
		}
		return nil, code, &platformError{Message: e.Error.Message, Code: code}
	}
	if e.Result == nil {
		return nil, "", errMissingResult
	}

	var rs resultShape
	if err := json.Unmarshal(e.Result, &rs); err == nil && rs.Data != nil {
		var ds dataShape
		if err := json.Unmarshal(rs.Data, &ds); err == nil && ds.JSON != nil {
			return ds.JSON, "", nil
		}
		return rs.Data, "", nil
	}
	return e.Result, "", nil
}
