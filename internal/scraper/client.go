package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/PuerkitoBio/rehttp"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/config"
)

// Backoff between transport retries: 300ms doubling with jitter, capped.
const (
	retryBaseDelay = 300 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Fetcher issues one GET and returns the response body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Session is the shared, connection-pooled HTTP client used for every
// request to the analytics API.
type Session struct {
	client  *http.Client
	metrics *Metrics

	// budget bounds a whole Fetch, retries and backoff included.
	budget time.Duration
}

// NewSession builds a Session for the analytics auth, TLS and scraper
// settings of cfg.
func NewSession(cfg *config.Config, m *Metrics) (*Session, error) {
	tlsCfg, err := buildTLSConfig(cfg.Analytics.TLS)
	if err != nil {
		return nil, fmt.Errorf("scraper: build http client: %w", err)
	}

	timeout := cfg.Scraper.Timeout.Std()
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   cfg.Scraper.PoolSize,
		IdleConnTimeout:       90 * time.Second,
	}

	retries := cfg.Scraper.MaxRetry
	retry := rehttp.RetryAll(
		rehttp.RetryMaxRetries(retries),
		rehttp.RetryIsErr(func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}),
	)
	transport := rehttp.NewTransport(
		&authRoundTripper{base: base, auth: cfg.Analytics.Auth},
		func(a rehttp.Attempt) bool {
			if !retry(a) {
				return false
			}
			m.Retries.Inc()
			return true
		},
		rehttp.ExpJitterDelay(retryBaseDelay, retryMaxDelay),
	)

	return &Session{
		client:  &http.Client{Transport: transport},
		metrics: m,
		budget:  time.Duration(retries+1)*2*timeout + time.Duration(retries)*retryMaxDelay,
	}, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "token":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

func buildTLSConfig(c config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if c.CAFile != "" {
		caPEM, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", c.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// Fetch GETs url and returns the body of a 2xx response. Transport errors
// are retried by the session; a non-2xx status is an error. The duration
// and the failure of every call are recorded.
func (s *Session) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	start := time.Now()
	body, err := s.get(ctx, url)
	s.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Errors.Inc()
		return nil, err
	}
	return body, nil
}

func (s *Session) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scraper: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("scraper: %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scraper: read body: %w", err)
	}
	return body, nil
}
