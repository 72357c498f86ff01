package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// FailKind classifies a fetch failure.
type FailKind string

const (
	FailUnreachable FailKind = "unreachable"
	FailEmptyBody   FailKind = "empty_body"
	FailTimeout     FailKind = "timeout"
)

// FetchError is the typed failure returned by Fetch. Nothing escapes
// the fetcher boundary except this type and URL validation errors.
type FetchError struct {
	Kind FailKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrInvalidURL is returned before any I/O for malformed URLs.
var ErrInvalidURL = errors.New("invalid url")

// defaultIdentities are the client identities tried in order. Rotating
// identities routes around naive bot-blocking on directory sites.
var defaultIdentities = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

type Config struct {
	Timeout       time.Duration
	MinContentLen int
	MaxContentLen int
	Identities    []string
	Logger        *zap.Logger
}

// Fetcher retrieves a page's text. It is a pure I/O boundary: no
// augmentation from URL patterns happens here.
type Fetcher struct {
	httpClient    *http.Client
	identities    []string
	minContentLen int
	maxContentLen int
	logger        *zap.Logger
}

func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxContentLen == 0 {
		cfg.MaxContentLen = 8000
	}
	if len(cfg.Identities) == 0 {
		cfg.Identities = defaultIdentities
	}

	return &Fetcher{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		identities:    cfg.Identities,
		minContentLen: cfg.MinContentLen,
		maxContentLen: cfg.MaxContentLen,
		logger:        cfg.Logger,
	}
}

// Fetch retrieves the page text at rawURL, advancing through the
// identity sequence on non-success responses or empty bodies. The last
// failure is returned once the sequence is exhausted.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", err
	}

	var lastFail *FetchError

	for i, identity := range f.identities {
		text, fail := f.attempt(ctx, rawURL, identity)
		if fail == nil {
			return text, nil
		}

		lastFail = fail
		f.logger.Debug("Fetch attempt failed, rotating identity",
			zap.String("url", rawURL),
			zap.Int("identity", i),
			zap.String("kind", string(fail.Kind)),
		)

		if fail.Kind == FailTimeout && ctx.Err() != nil {
			break
		}
	}

	f.logger.Warn("Fetch failed under every identity",
		zap.String("url", rawURL),
		zap.String("kind", string(lastFail.Kind)),
	)
	return "", lastFail
}

func (f *Fetcher) attempt(ctx context.Context, rawURL, identity string) (string, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{Kind: FailUnreachable, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", identity)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Kind: classify(err), URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{
			Kind: FailUnreachable,
			URL:  rawURL,
			Err:  fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", &FetchError{Kind: FailEmptyBody, URL: rawURL, Err: err}
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	// Boilerplate-only pages carry no evidence worth extracting.
	if len(text) < f.minContentLen || text == "" {
		return "", &FetchError{Kind: FailEmptyBody, URL: rawURL}
	}

	if len(text) > f.maxContentLen {
		text = text[:f.maxContentLen]
	}

	return text, nil
}

func classify(err error) FailKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailTimeout
	}
	return FailUnreachable
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return nil
}
