// Package platform implements PlatformClient, the typed, retrying,
// timeout-bounded RPC wrapper over the platform's batched trpc HTTP
// surface (spec.md §4.2). Structurally this follows the teacher's own
// RPC client wrappers (gateway/pkg/rpc/{auth,project}_client.go: a
// struct holding connection config, an explicit constructor, one method
// per remote operation) with the transport swapped from gRPC to the
// platform's HTTP+JSON envelope, and retry/backoff/request-id handling
// added per spec.md §4.2.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/errs"
)

// Config controls dial behavior and retry policy.
type Config struct {
	BaseURL        string
	APIKey         string
	MaxRetries     int           // default 2
	AttemptTimeout time.Duration // default 20s
	HTTPClient     *http.Client
}

// Client is a stateless-except-configuration wrapper safe for concurrent
// use; every call runs under its own per-attempt context/timeout.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	timeout    time.Duration
	httpClient *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	timeout := cfg.AttemptTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// resolveRequestID accepts a caller-supplied id when it matches the
// allowed charset/length, otherwise mints a fresh UUID.
func resolveRequestID(requestID string) string {
	if requestID != "" && requestIDPattern.MatchString(requestID) {
		return requestID
	}
	return uuid.NewString()
}

// requireNonEmpty rejects an empty required string field locally, before
// any dispatch, as BAD_REQUEST (spec.md §4.2 "Input validation").
func requireNonEmpty(field, value string) error {
	if value == "" {
		return errs.New(http.StatusBadRequest, errs.CodeBadRequest, field+" is required")
	}
	return nil
}

// call performs one trpc procedure invocation, retrying per spec.md
// §4.2's retry policy: statuses {408,425,429,500,502,503,504} and
// transport/timeout errors are retryable, up to maxRetries additional
// attempts, with backoff min(2000, 200*2^attempt + jitter[0,120)) ms.
func (c *Client) call(ctx context.Context, procedure string, isMutation bool, input any, requestID string) (json.RawMessage, error) {
	rid := resolveRequestID(requestID)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(minInt(2000, 200*(1<<attempt)+rand.Intn(120))) * time.Millisecond
			log.Printf("platform: retrying %s attempt=%d backoff=%s request_id=%s", procedure, attempt, backoff, rid)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, toRuntimeError(procedure, ctx.Err())
			}
		}

		result, status, err := c.attempt(ctx, procedure, isMutation, input, rid)
		if err == nil {
			log.Printf("platform: %s ok attempt=%d request_id=%s", procedure, attempt, rid)
			return result, nil
		}

		lastErr = err
		if !isRetryable(status, err) {
			log.Printf("platform: %s failed non-retryable attempt=%d request_id=%s err=%v", procedure, attempt, rid, err)
			return nil, toRuntimeError(procedure, err)
		}
		log.Printf("platform: %s failed retryable attempt=%d request_id=%s err=%v", procedure, attempt, rid, err)
	}
	return nil, toRuntimeError(procedure, errs.Wrap(http.StatusBadGateway, errs.CodeRetryExhausted, "retries exhausted for "+procedure, lastErr))
}

func isRetryable(status int, err error) bool {
	var pe *platformError
	if asPlatformError(err, &pe) {
		return isRetryableCode(pe.Code)
	}
	if status != 0 {
		return isRetryableStatus(status)
	}
	// transport-level (network/timeout) errors with no HTTP status are
	// always retryable per spec.md §4.2.
	return true
}

func asPlatformError(err error, target **platformError) bool {
	if pe, ok := err.(*platformError); ok {
		*target = pe
		return true
	}
	return false
}

// attempt performs exactly one HTTP round trip and returns the unwrapped
// payload, or the HTTP status observed (0 if the request never got a
// response) plus an error.
func (c *Client) attempt(ctx context.Context, procedure string, isMutation bool, input any, requestID string) (json.RawMessage, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	envelopeBody := map[string]any{
		"0": map[string]any{"json": input},
	}
	payload, err := json.Marshal(envelopeBody)
	if err != nil {
		return nil, 0, err
	}

	endpoint := c.baseURL + "/api/trpc/" + procedure
	var req *http.Request

	if isMutation {
		req, err = http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint+"?batch=1", bytes.NewReader(payload))
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("content-type", "application/json")
	} else {
		q := url.Values{}
		q.Set("batch", "1")
		q.Set("input", string(payload))
		req, err = http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return nil, 0, err
		}
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-request-id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, 0, errs.New(http.StatusGatewayTimeout, errs.CodeTimeout, "platform request timed out")
		}
		return nil, 0, errs.Wrap(http.StatusBadGateway, errs.CodeNetworkError, "platform request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errs.Wrap(http.StatusBadGateway, errs.CodeNetworkError, "failed reading platform response", err)
	}

	if resp.StatusCode >= 300 {
		if isRetryableStatus(resp.StatusCode) {
			return nil, resp.StatusCode, fmt.Errorf("platform responded %d", resp.StatusCode)
		}
		return nil, resp.StatusCode, errs.New(statusForHTTP(resp.StatusCode), errs.CodeInternal, fmt.Sprintf("platform responded %d", resp.StatusCode))
	}

	result, code, err := unwrapEnvelope(body)
	if code != "" {
		return nil, statusForCode(code), err
	}
	if err != nil {
		if err == errMissingResult {
			return nil, resp.StatusCode, errs.New(http.StatusBadGateway, errs.CodeInvalidTRPCResponse, "platform response missing result field")
		}
		return nil, resp.StatusCode, errs.Wrap(http.StatusBadGateway, errs.CodeInvalidJSONResponse, "failed parsing platform response", err)
	}
	return result, resp.StatusCode, nil
}

func statusForHTTP(status int) int {
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
