package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueryParsesBulkResponse(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/search", r.URL.Path)
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"result_count": 42,
			"results": [
				{"id": "r1", "given_name": "Maria", "surname": "Garcia", "region": "Madrid", "category": "dermatology"},
				{"id": "r2", "given_name": "Maria", "surname": "Garcia", "locality": "Alcala"}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, zap.NewNop())
	result, err := client.Query(context.Background(), map[string]string{
		"given_name": "Maria",
		"surname":    "Garcia",
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result.Count)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "r1", result.Records[0].ID)
	assert.Equal(t, "Madrid", result.Records[0].Region)
	assert.Equal(t, "Alcala", result.Records[1].Locality)

	assert.Equal(t, []string{"Maria"}, gotQuery["given_name"])
	assert.Equal(t, []string{"Garcia"}, gotQuery["surname"])
	assert.Equal(t, []string{"secret"}, gotQuery["api_key"])
}

func TestQueryRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"result_count": 0, "results": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zap.NewNop())
	client.retryConfig.InitialDelay = time.Millisecond
	client.retryConfig.MaxDelay = time.Millisecond

	result, err := client.Query(context.Background(), map[string]string{"surname": "Garcia"})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.Records)
}

func TestQueryErrorAfterExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zap.NewNop())
	client.retryConfig.InitialDelay = time.Millisecond
	client.retryConfig.MaxDelay = time.Millisecond

	_, err := client.Query(context.Background(), map[string]string{"surname": "Garcia"})
	assert.Error(t, err)
}

func TestQueryRejectsMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zap.NewNop())
	client.retryConfig.InitialDelay = time.Millisecond
	client.retryConfig.MaxDelay = time.Millisecond

	_, err := client.Query(context.Background(), map[string]string{"surname": "Garcia"})
	assert.Error(t, err)
}
