package engine

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Loader fetches pages over HTTP and parses them into documents
type Loader struct {
	client  *resty.Client
	maxBody int64
	logger  *zap.Logger
}

// NewLoader creates a loader with browser-like request headers
func NewLoader(cfg Config, logger *zap.Logger) *Loader {
	cfg.fill()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetRetryCount(cfg.FetchRetries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err == nil && resp.StatusCode() >= 500
	})

	return &Loader{client: client, maxBody: cfg.MaxBodyBytes, logger: logger}
}

// Fetch loads rawURL; about:blank never touches the network
func (l *Loader) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	if rawURL == "" || rawURL == "about:blank" {
		return blankDocument("about:blank"), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	start := time.Now()
	resp, err := l.client.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("%w: %d %s", ErrHTTPStatus, resp.StatusCode(), rawURL)
	}

	body := resp.Body()
	if int64(len(body)) > l.maxBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}

	final := u.String()
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		final = resp.RawResponse.Request.URL.String()
	}

	contentType := resp.Header().Get("Content-Type")
	doc, err := l.parse(final, contentType, body)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("page fetched",
		zap.String("url", final),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))
	return doc, nil
}

func (l *Loader) parse(pageURL, contentType string, body []byte) (*Document, error) {
	detected := mimetype.Detect(body)
	declared, _, _ := mime.ParseMediaType(contentType)

	switch {
	case detected.Is("text/html"), detected.Is("application/xhtml+xml"),
		declared == "text/html", declared == "application/xhtml+xml":
		reader, err := charset.NewReader(bytes.NewReader(body), contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to decode charset: %w", err)
		}
		return newDocument(pageURL, reader, int64(len(body)))

	case strings.HasPrefix(detected.String(), "text/plain"), declared == "text/plain":
		reader, err := charset.NewReader(bytes.NewReader(body), contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to decode charset: %w", err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(reader); err != nil {
			return nil, fmt.Errorf("failed to read text: %w", err)
		}
		return textDocument(pageURL, buf.String())

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, detected.String())
	}
}
