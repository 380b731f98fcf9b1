package meteo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Scales maps each observation scale to its list endpoint suffix.
var Scales = map[string]string{
	"infrahoraire-6m": "/liste-stations/infrahoraire-6m",
	"horaire":         "/liste-stations/horaire",
	"quotidienne":     "/liste-stations/quotidienne",
}

// ScaleNames returns the known scales in deterministic order.
func ScaleNames() []string {
	return []string{"infrahoraire-6m", "horaire", "quotidienne"}
}

// StationsClient downloads station metadata lists per department and scale.
// Calls go through the shared admission controller and a circuit breaker so
// a flapping upstream stops the whole download run early.
type StationsClient struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Limiter Admitter
	Logger  *zap.Logger

	circuit *gobreaker.CircuitBreaker
	sleep   func(time.Duration)
}

// NewStationsClient builds a StationsClient with its circuit breaker.
func NewStationsClient(baseURL string, httpClient *http.Client, tokens TokenSource, limiter Admitter, logger *zap.Logger) *StationsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "station-list",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &StationsClient{
		BaseURL: baseURL,
		HTTP:    httpClient,
		Tokens:  tokens,
		Limiter: limiter,
		Logger:  logger,
		circuit: cb,
		sleep:   time.Sleep,
	}
}

// FetchStations calls the list endpoint for one (department, scale) pair
// and returns the raw JSON array.
func (c *StationsClient) FetchStations(ctx context.Context, department int, scale string) ([]byte, error) {
	suffix, ok := Scales[scale]
	if !ok {
		return nil, fmt.Errorf("meteo: unknown scale %q", scale)
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		return c.fetchList(ctx, department, suffix)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *StationsClient) fetchList(ctx context.Context, department int, suffix string) ([]byte, error) {
	resp, err := c.doList(ctx, department, suffix)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		drain(resp)
		return nil, fmt.Errorf("meteo: dept %d%s: no content (204)", department, suffix)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		preview := readPreview(resp)
		if err := c.Tokens.Invalidate(); err != nil {
			return nil, fmt.Errorf("meteo: invalidate token cache: %w", err)
		}
		resp, err = c.doList(ctx, department, suffix)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drain(resp)
			return nil, fmt.Errorf("meteo: dept %d%s: HTTP %d after credential refresh: %s", department, suffix, resp.StatusCode, preview)
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp)
		drain(resp)
		c.Logger.Warn("rate limited by upstream, backing off", zap.Duration("retry_after", wait))
		c.sleep(wait)
		resp, err = c.doList(ctx, department, suffix)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := readPreview(resp)
		return nil, fmt.Errorf("meteo: dept %d%s: HTTP %d: %s", department, suffix, resp.StatusCode, preview)
	}

	defer resp.Body.Close()
	var payload json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("meteo: dept %d%s: decode: %w", department, suffix, err)
	}
	return []byte(payload), nil
}

func (c *StationsClient) doList(ctx context.Context, department int, suffix string) (*http.Response, error) {
	token, err := c.Tokens.Token(ctx, true)
	if err != nil {
		return nil, err
	}

	c.Limiter.Admit()

	q := url.Values{}
	q.Set("id-departement", strconv.Itoa(department))
	u := fmt.Sprintf("%s%s?%s", c.BaseURL, suffix, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.HTTP.Do(req)
}

// FetchAll downloads every (scale, department) list into
// saveDir/<scale>/stations_<dept>.json. Failures are logged and skipped so
// one bad department does not stop the run; the first error is returned
// after all pairs were attempted.
func (c *StationsClient) FetchAll(ctx context.Context, departments []int, saveDir string) error {
	var firstErr error
	for _, scale := range ScaleNames() {
		for _, dept := range departments {
			data, err := c.FetchStations(ctx, dept, scale)
			if err != nil {
				c.Logger.Error("station list fetch failed",
					zap.String("scale", scale), zap.Int("department", dept), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			outDir := filepath.Join(saveDir, scale)
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("meteo: create %s: %w", outDir, err)
			}
			outFile := filepath.Join(outDir, fmt.Sprintf("stations_%d.json", dept))
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return fmt.Errorf("meteo: write %s: %w", outFile, err)
			}
			c.Logger.Info("station list saved",
				zap.String("scale", scale), zap.Int("department", dept), zap.String("file", outFile))
		}
	}
	return firstErr
}
