package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFetcher(timeout time.Duration) *Fetcher {
	return New(Config{Timeout: timeout, Logger: zap.NewNop()})
}

func TestFetchExtractsVisibleText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><head><script>var x = 1;</script><style>p{}</style></head>
<body><nav>menu</nav><p>Dr. Jane Smith, cardiologist.</p><footer>contact</footer></body></html>`))
	}))
	defer server.Close()

	text, err := newTestFetcher(time.Second).Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, text, "Dr. Jane Smith, cardiologist.")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "contact")
}

func TestFetchRotatesIdentitiesOnBlock(t *testing.T) {
	var blocked atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Refuse the first identity, accept any other.
		if r.Header.Get("User-Agent") == defaultIdentities[0] {
			blocked.Add(1)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("<html><body>profile text</body></html>"))
	}))
	defer server.Close()

	text, err := newTestFetcher(time.Second).Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, int32(1), blocked.Load())
	assert.Contains(t, text, "profile text")
}

func TestFetchReturnsTypedFailureAfterAllIdentities(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestFetcher(time.Second).Fetch(context.Background(), server.URL)

	require.Error(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, FailUnreachable, fetchErr.Kind)
	assert.Equal(t, server.URL, fetchErr.URL)
	assert.Equal(t, int32(len(defaultIdentities)), attempts.Load())
}

func TestFetchEmptyBodyIsTypedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><script>only scripts here</script></body></html>"))
	}))
	defer server.Close()

	_, err := newTestFetcher(time.Second).Fetch(context.Background(), server.URL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, FailEmptyBody, fetchErr.Kind)
}

func TestFetchRejectsInvalidURLBeforeIO(t *testing.T) {
	f := newTestFetcher(time.Second)

	for _, raw := range []string{"", "not-a-url", "ftp://example.org/file", "https://"} {
		_, err := f.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", raw)
	}
}

func TestFetchRejectsBoilerplateOnlyPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body>404</body></html>"))
	}))
	defer server.Close()

	f := New(Config{Timeout: time.Second, MinContentLen: 50, Logger: zap.NewNop()})
	_, err := f.Fetch(context.Background(), server.URL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, FailEmptyBody, fetchErr.Kind)
}

func TestFetchTruncatesLongPages(t *testing.T) {
	long := make([]byte, 0, 20000)
	long = append(long, []byte("<html><body>")...)
	for i := 0; i < 3000; i++ {
		long = append(long, []byte("word ")...)
	}
	long = append(long, []byte("</body></html>")...)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(long)
	}))
	defer server.Close()

	f := New(Config{Timeout: time.Second, MaxContentLen: 500, Logger: zap.NewNop()})
	text, err := f.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Len(t, text, 500)
}
