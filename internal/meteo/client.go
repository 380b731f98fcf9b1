// Package meteo talks to the upstream climate observation API: one-shot
// observation fetches for the reconciler and station list downloads for the
// metadata pipeline. Every request passes through the admission controller
// and carries a bearer token from the credential cache.
package meteo

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultRetryAfter applies when a 429 response has no usable
	// Retry-After header.
	defaultRetryAfter = 60 * time.Second

	bodyPreviewLimit = 400
)

// TokenSource supplies bearer tokens and supports invalidation after an
// auth failure.
type TokenSource interface {
	Token(ctx context.Context, useCache bool) (string, error)
	Invalidate() error
}

// Admitter gates outbound calls. Admit blocks until a call may proceed.
type Admitter interface {
	Admit()
}

// Client fetches observations from the upstream API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Limiter Admitter
	Logger  *zap.Logger

	sleep func(time.Duration)
}

// NewClient wires a Client with the given collaborators.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, limiter Admitter, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    httpClient,
		Tokens:  tokens,
		Limiter: limiter,
		Logger:  logger,
		sleep:   time.Sleep,
	}
}

// FetchOne retrieves the daily observation for one (station, date) pair and
// classifies the HTTP result. A returned error means the fetch could not be
// performed at all (transport failure, no token); callers treat it as a
// non-resolving outcome.
func (c *Client) FetchOne(ctx context.Context, stationID int64, date string) (Outcome, error) {
	resp, err := c.doObservation(ctx, stationID, date, true)
	if err != nil {
		return Outcome{}, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Token likely expired: purge the cache and retry exactly once
		// with a fresh credential.
		preview := readPreview(resp)
		c.Logger.Debug("auth rejected, refreshing credential",
			zap.Int("status", resp.StatusCode), zap.Int64("station", stationID), zap.String("date", date))
		if err := c.Tokens.Invalidate(); err != nil {
			return Outcome{}, fmt.Errorf("meteo: invalidate token cache: %w", err)
		}
		resp, err = c.doObservation(ctx, stationID, date, true)
		if err != nil {
			return Outcome{}, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drain(resp)
			return Outcome{Kind: OutcomeFatal, Reason: fmt.Sprintf("HTTP %d after credential refresh: %s", resp.StatusCode, preview)}, nil
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp)
		drain(resp)
		c.Logger.Warn("rate limited by upstream, backing off",
			zap.Duration("retry_after", wait), zap.Int64("station", stationID), zap.String("date", date))
		c.sleep(wait)
		resp, err = c.doObservation(ctx, stationID, date, true)
		if err != nil {
			return Outcome{}, err
		}
	}

	return c.classify(resp), nil
}

// doObservation performs one admission-gated, authenticated GET.
func (c *Client) doObservation(ctx context.Context, stationID int64, date string, useCache bool) (*http.Response, error) {
	token, err := c.Tokens.Token(ctx, useCache)
	if err != nil {
		return nil, err
	}

	c.Limiter.Admit()

	q := url.Values{}
	q.Set("id-station", strconv.FormatInt(stationID, 10))
	q.Set("date", date)
	u := fmt.Sprintf("%s/observations/quotidienne?%s", c.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.HTTP.Do(req)
}

// classify maps the final HTTP response onto an Outcome.
func (c *Client) classify(resp *http.Response) Outcome {
	if resp.StatusCode == http.StatusNoContent {
		drain(resp)
		// Transient upstream condition, never "resolved".
		return Outcome{Kind: OutcomeRetryable, Reason: "no content"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := readPreview(resp)
		return Outcome{Kind: OutcomeFatal, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, preview)}
	}

	defer resp.Body.Close()
	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return Outcome{Kind: OutcomeRetryable, Reason: fmt.Sprintf("unparseable payload: %v", err)}
	}
	if len(rows) == 0 {
		return Outcome{Kind: OutcomeEmpty}
	}

	// Resolved iff a data row carries a non-empty date in column 2.
	for _, row := range rows[1:] {
		if len(row) >= 2 && strings.TrimSpace(row[1]) != "" {
			return Outcome{Kind: OutcomeResolved, Rows: rows}
		}
	}
	return Outcome{Kind: OutcomeEmpty}
}

// retryAfter reads the Retry-After header in seconds, defaulting when
// absent or non-numeric.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}

func readPreview(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLimit))
	return strings.TrimSpace(string(body))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
