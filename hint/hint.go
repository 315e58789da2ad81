// Package hint expresses prefetch intent to the hosting environment.
package hint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"smart-prefetch/models"
	"smart-prefetch/utils"
)

// ErrStatus is wrapped by errors for responses with a status >= 400.
var ErrStatus = errors.New("unexpected status")

type Kind string

const (
	KindImage    Kind = "image"
	KindStyle    Kind = "style"
	KindScript   Kind = "script"
	KindFont     Kind = "font"
	KindDocument Kind = "document"
)

type Hint struct {
	URL  string
	Kind Kind
	// CrossOrigin is the credential mode for font hints ("anonymous").
	CrossOrigin string
}

// For builds the hint for a resource type; fonts are always anonymous.
func For(url string, t models.ResourceType) Hint {
	switch t {
	case models.ResourceImage:
		return Hint{URL: url, Kind: KindImage}
	case models.ResourceStyle:
		return Hint{URL: url, Kind: KindStyle}
	case models.ResourceScript:
		return Hint{URL: url, Kind: KindScript}
	case models.ResourceFont:
		return Hint{URL: url, Kind: KindFont, CrossOrigin: "anonymous"}
	default:
		return Hint{URL: url, Kind: KindDocument}
	}
}

// Emitter issues a hint without blocking. done is called exactly once, from
// any goroutine, with nil on success.
type Emitter interface {
	Emit(ctx context.Context, h Hint, done func(error))
}

// HTTPEmitter warms caches in front of the site by fetching hinted
// resources with prefetch request headers.
type HTTPEmitter struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	baseURL   string
	logger    *zap.Logger
}

type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	RateLimit int
	RateBurst int
	// BaseURL resolves site-relative hint URLs.
	BaseURL string
}

func NewHTTPEmitter(opts HTTPOptions, logger *zap.Logger) *HTTPEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 15
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = opts.RateLimit * 2
	}
	return &HTTPEmitter{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		userAgent: opts.UserAgent,
		baseURL:   opts.BaseURL,
		logger:    logger,
	}
}

func (e *HTTPEmitter) Emit(ctx context.Context, h Hint, done func(error)) {
	go func() {
		done(e.fetch(ctx, h))
	}()
}

func (e *HTTPEmitter) fetch(ctx context.Context, h Hint) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	target := utils.MakeAbsoluteURL(e.baseURL, h.URL)
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return fmt.Errorf("failed to build prefetch request: %w", err)
	}
	decorate(req, h, e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to prefetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read prefetch body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %d for %s", ErrStatus, resp.StatusCode, target)
	}

	e.logger.Debug("Prefetched resource",
		zap.String("url", target),
		zap.String("kind", string(h.Kind)),
		zap.Int("status", resp.StatusCode))
	return nil
}

// decorate sets the request headers a browser would send for the hint.
// Documents go out at a lower urgency than subresources.
func decorate(req *http.Request, h Hint, userAgent string) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Sec-Purpose", "prefetch")
	req.Header.Set("Purpose", "prefetch")

	switch h.Kind {
	case KindImage:
		req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
		req.Header.Set("Sec-Fetch-Dest", "image")
	case KindStyle:
		req.Header.Set("Accept", "text/css,*/*;q=0.1")
		req.Header.Set("Sec-Fetch-Dest", "style")
	case KindScript:
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Sec-Fetch-Dest", "script")
	case KindFont:
		req.Header.Set("Accept", "font/woff2,font/woff,*/*;q=0.1")
		req.Header.Set("Sec-Fetch-Dest", "font")
		req.Header.Set("Sec-Fetch-Mode", "cors")
		if h.CrossOrigin == "anonymous" && req.URL != nil {
			req.Header.Set("Origin", req.URL.Scheme+"://"+req.URL.Host)
		}
	default:
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Sec-Fetch-Dest", "document")
	}

	if h.Kind == KindDocument {
		req.Header.Set("Priority", "u=4")
	} else {
		req.Header.Set("Priority", "u=2")
	}
}

// LogEmitter only logs hints; every hint completes immediately.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, h Hint, done func(error)) {
	e.logger.Info("Resource hint",
		zap.String("url", h.URL),
		zap.String("kind", string(h.Kind)),
		zap.String("crossorigin", h.CrossOrigin))
	done(nil)
}
