// Package submit sends page URLs to third-party archiving services and
// extracts the permanent link where the service returns one.
package submit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
	"github.com/JakeFAU/bookmark-archiver/internal/policy/ratelimit"
)

var (
	// ErrLinkNotFound is returned when a link-returning service response
	// does not contain a permanent link.
	ErrLinkNotFound = errors.New("submit: archive link not found in response")
	// ErrLocalURL is returned for URLs public archives cannot reach.
	ErrLocalURL = errors.New("submit: local url cannot be archived online")
	// ErrUnknownService is returned for service names outside the catalog.
	ErrUnknownService = errors.New("submit: unknown service")
	// ErrEmailRequired is returned when a service needs the user email.
	ErrEmailRequired = errors.New("submit: service requires an email address")
)

// Config controls the submission client.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
	ArchiveIsURL   string
	ArchiveOrgURL  string
	WebCitationURL string
	Transport      http.RoundTripper
	Logger         *zap.Logger
}

// Result is a completed submission.
type Result struct {
	Service string `json:"service"`
	// Link is the permanent link, or archive.PendingLink when the service
	// does not return one.
	Link string `json:"link"`
}

// Client submits URLs through colly collectors.
type Client struct {
	cfg           Config
	services      map[string]Service
	limiter       *ratelimit.Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.ArchiveIsURL == "" {
		cfg.ArchiveIsURL = DefaultArchiveIsURL
	}
	if cfg.ArchiveOrgURL == "" {
		cfg.ArchiveOrgURL = DefaultArchiveOrgURL
	}
	if cfg.WebCitationURL == "" {
		cfg.WebCitationURL = DefaultWebCitationURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(transport)
	return &Client{
		cfg:           cfg,
		services:      catalog(cfg),
		limiter:       ratelimit.New(ratelimit.Config{RatePerSecond: cfg.RatePerSecond, Burst: cfg.Burst}),
		baseCollector: c,
		logger:        logger,
	}
}

// Services returns the known service names in sorted order.
func (c *Client) Services() []string {
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the service description for name.
func (c *Client) Lookup(name string) (Service, bool) {
	svc, ok := c.services[name]
	return svc, ok
}

// Submit sends pageURL to service. A link-returning service whose response
// lacks a link yields ErrLinkNotFound; nothing is retried.
func (c *Client) Submit(ctx context.Context, service, pageURL, email string) (Result, error) {
	svc, ok := c.services[service]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	if IsLocal(pageURL) {
		return Result{}, fmt.Errorf("%w: %s", ErrLocalURL, pageURL)
	}
	if svc.NeedsEmail && email == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrEmailRequired, service)
	}
	req := svc.build(pageURL, email)
	if err := c.limiter.Wait(ctx, req.target); err != nil {
		return Result{}, err
	}

	var (
		body     []byte
		fetchErr error
	)
	collector := c.buildCollector()
	c.configureCollectorHooks(collector, &body, &fetchErr)
	if err := c.runCollector(ctx, collector, req, &fetchErr); err != nil {
		metrics.ObserveSubmission(service, "error")
		c.logger.Warn("archive submission failed",
			zap.String("service", service),
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return Result{}, err
	}

	link := archive.PendingLink
	if svc.ReturnsLink() {
		match := svc.LinkPattern.Find(body)
		if match == nil {
			metrics.ObserveSubmission(service, "parse_error")
			c.logger.Warn("archive link missing from response",
				zap.String("service", service),
				zap.String("url", pageURL),
			)
			return Result{}, fmt.Errorf("%w: %s", ErrLinkNotFound, service)
		}
		link = string(match)
	}
	metrics.ObserveSubmission(service, "success")
	c.logger.Info("archive submitted",
		zap.String("service", service),
		zap.String("url", pageURL),
		zap.String("link", link),
	)
	return Result{Service: service, Link: link}, nil
}

func (c *Client) buildCollector() *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	return collector
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, req request, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		if req.method == http.MethodPost {
			done <- collector.Post(req.target, req.form)
			return
		}
		done <- collector.Visit(req.target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("submission canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("submission response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("submission request failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
