package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/hookrelay/internal/resilience"
)

// apiClient is the shared outbound HTTP client. A token-bucket limiter
// smooths bursts across all posters so one busy flow cannot exhaust a
// provider's rate budget.
type apiClient struct {
	http    *http.Client
	limiter *rate.Limiter
}

func newAPIClient(rps float64, burst int) *apiClient {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &apiClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// postJSON sends a JSON request and decodes a JSON response into out
// (skipped when out is nil). Failures are classified for the retry
// layer: 429 carries the advisory wait, 5xx and transport errors are
// transient, anything else is permanent.
func (c *apiClient) postJSON(ctx context.Context, service, url string, headers map[string]string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &resilience.ExternalServiceError{Service: service, Operation: "post", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Duration(0)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return &resilience.RateLimitError{Service: service, RetryAfter: wait}
	case resp.StatusCode >= 500:
		return &resilience.ExternalServiceError{
			Service: service, Operation: "post", Transient: true,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &resilience.ExternalServiceError{
			Service: service, Operation: "post", Transient: false,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}
