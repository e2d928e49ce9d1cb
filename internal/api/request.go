package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// APIError is a non-2xx CoinCap response.
type APIError struct {
	StatusCode int
	Message    string        // The body's "error" field, else the status text
	RetryAfter time.Duration // From the Retry-After header, zero when absent
	Body       []byte
}

func (e *APIError) Error() string {
	return "coincap: status " + strconv.Itoa(e.StatusCode) + ": " + e.Message
}

// IsRetryable reports whether the request may succeed if sent again.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.cfg.BaseURL + path
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// fetch sends one GET and returns the body of a successful response.
func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp, body)
	}
	return body, nil
}

// fetchRetrying repeats fetch on retryable API errors. Waits grow with
// jitter between RetryMin and RetryMax; a longer Retry-After wins, capped
// at RetryMax.
func (c *Client) fetchRetrying(ctx context.Context, path string, query url.Values) ([]byte, error) {
	b := &backoff.Backoff{
		Min:    c.cfg.RetryMin,
		Max:    c.cfg.RetryMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		body, err := c.fetch(ctx, path, query)
		if err == nil {
			return body, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
		attempt := int(b.Attempt())
		if attempt >= c.cfg.MaxRetries {
			return nil, errors.Wrapf(err, "giving up after %d attempts", attempt+1)
		}

		wait := b.Duration()
		if apiErr.RetryAfter > wait {
			wait = min(apiErr.RetryAfter, c.cfg.RetryMax)
		}
		c.logger.Debug("retrying request",
			zap.String("path", path),
			zap.Int("status", apiErr.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// getJSON fetches path and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.fetchRetrying(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
