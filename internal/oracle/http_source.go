package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxStatusBodyBytes = 1 << 20

// statusFields are probed in order; the nested variants cover APIs that wrap their payload in `data`.
var statusFields = []string{
	"status", "state", "messageState", "executionState",
	"data.status", "data.state", "data.messageState", "data.executionState",
}

// HTTPSource queries a list of remote status APIs in order.
type HTTPSource struct {
	endpoints []string
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewHTTPSource builds a source over endpoints. timeout bounds each endpoint call;
// requestsPerSecond is shared by every call this source makes.
func NewHTTPSource(endpoints []string, timeout time.Duration, requestsPerSecond float64) *HTTPSource {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	var clean []string
	for _, endpoint := range endpoints {
		if trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/"); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return &HTTPSource{
		endpoints: clean,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

func (s *HTTPSource) Name() string { return "api" }

// Resolve returns the status of the first endpoint that answers with a readable body.
func (s *HTTPSource) Resolve(ctx context.Context, messageID string) (domain.CanonicalStatus, error) {
	if len(s.endpoints) == 0 {
		return "", ErrNoResult
	}
	var lastErr error
	for _, endpoint := range s.endpoints {
		status, err := s.fetch(ctx, endpoint, messageID)
		if err == nil {
			return status, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrNoResult, lastErr)
}

func (s *HTTPSource) fetch(ctx context.Context, endpoint, messageID string) (domain.CanonicalStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(reqCtx); err != nil {
		return "", fmt.Errorf("rate limit %s: %w", endpoint, err)
	}

	reqURL := endpoint + "/messages/" + url.PathEscape(messageID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("get %s: status %d", reqURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", reqURL, err)
	}
	status, ok := StatusFromBody(body)
	if !ok {
		return "", fmt.Errorf("get %s: no status field in response", reqURL)
	}
	return status, nil
}

// StatusFromBody extracts and maps the first status-like field of a JSON body.
func StatusFromBody(body []byte) (domain.CanonicalStatus, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	for _, field := range statusFields {
		value := gjson.GetBytes(body, field)
		codes := strings.HasSuffix(field, "executionState")
		switch value.Type {
		case gjson.Number:
			// Numbers elsewhere are envelope codes, not delivery evidence.
			if !codes {
				return domain.CanonicalSourceFinalized, true
			}
			return MapExecutionStateValue(value.Raw), true
		case gjson.String:
			if strings.TrimSpace(value.String()) == "" {
				continue
			}
			if codes {
				return MapExecutionStateValue(value.String()), true
			}
			return MapLexicalStatus(value.String()), true
		}
	}
	return "", false
}
