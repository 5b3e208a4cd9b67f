package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/teamsync/agent/internal/errors"
)

// Replayer performs the remote call for one queued record.
type Replayer interface {
	Do(ctx context.Context, op Operation, credential string, data map[string]interface{}) error
}

// HTTPError is a non-2xx answer from the remote API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// maxErrorBody bounds how much of a failed response ends up in the record's error.
const maxErrorBody = 512

// HTTPReplayer replays operations against the remote training API.
type HTTPReplayer struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPReplayer creates a replayer for baseURL. ratePerSecond <= 0 disables
// pacing.
func NewHTTPReplayer(baseURL string, timeout time.Duration, ratePerSecond float64) *HTTPReplayer {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &HTTPReplayer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Do sends one request. The credential is passed through verbatim as the
// Authorization header, even when empty.
func (r *HTTPReplayer) Do(ctx context.Context, op Operation, credential string, data map[string]interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return errors.Wrap(errors.ErrNetworkFailure, "replay cancelled", err)
	}

	var body io.Reader
	if op.SendBody && op.Method != http.MethodDelete {
		if data == nil {
			data = map[string]interface{}{}
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return errors.Wrap(errors.ErrInvalid, "failed to encode record data", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, r.baseURL+op.Path, body)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", credential)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrNetworkFailure, fmt.Sprintf("%s %s failed", op.Method, op.Path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return errors.Wrap(errors.ErrNetworkFailure,
		fmt.Sprintf("%s %s rejected", op.Method, op.Path),
		&HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))})
}
