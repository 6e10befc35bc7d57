package crossref

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/papersources"
)

const workResponseJSON = `{
	"status": "ok",
	"message-type": "work",
	"message": {
		"DOI": "10.1038/s41586-021-03819-2",
		"title": ["Highly accurate protein structure prediction with AlphaFold"],
		"container-title": ["Nature"],
		"issued": {"date-parts": [[2021, 7, 15]]},
		"author": [
			{"given": "John", "family": "Jumper", "ORCID": "http://orcid.org/0000-0001-6169-6580"},
			{"given": "Richard", "family": "Evans"},
			{"name": "DeepMind AlphaFold Team"}
		]
	}
}`

func TestNewClient(t *testing.T) {
	t.Run("creates client with default config", func(t *testing.T) {
		client := New(Config{})

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
		assert.Equal(t, DefaultTimeout, client.config.Timeout)
		assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
		assert.Equal(t, 1, client.config.BurstSize)
	})

	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := Config{
			BaseURL:   "https://custom.example.com",
			Timeout:   5 * time.Second,
			RateLimit: 10,
			Mailto:    "dev@example.com",
		}
		client := New(cfg)

		require.NotNil(t, client)
		assert.Equal(t, cfg.BaseURL, client.config.BaseURL)
		assert.Equal(t, cfg.Mailto, client.config.Mailto)
	})
}

func TestClient_Work(t *testing.T) {
	t.Run("fetches work metadata", func(t *testing.T) {
		var receivedPath, receivedAccept, receivedMailto string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedPath = r.URL.EscapedPath()
			receivedAccept = r.Header.Get("Accept")
			receivedMailto = r.URL.Query().Get("mailto")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(workResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "dev@example.com")

		work, err := client.Work(context.Background(), "10.1038/s41586-021-03819-2")
		require.NoError(t, err)
		require.NotNil(t, work)

		assert.Equal(t, "/works/10.1038%2Fs41586-021-03819-2", receivedPath)
		assert.Equal(t, "application/json", receivedAccept)
		assert.Equal(t, "dev@example.com", receivedMailto)

		assert.Equal(t, "10.1038/s41586-021-03819-2", work.DOI)
		assert.Equal(t, "Highly accurate protein structure prediction with AlphaFold", work.Title)
		assert.Equal(t, "Nature", work.Journal)
		assert.Equal(t, "2021", work.Year)
		require.Len(t, work.Authors, 3)
		assert.Equal(t, "John Jumper", work.Authors[0].Name)
		assert.Equal(t, "http://orcid.org/0000-0001-6169-6580", work.Authors[0].ORCID)
		assert.Equal(t, "DeepMind AlphaFold Team", work.Authors[2].Name)
	})

	t.Run("omits mailto when not configured", func(t *testing.T) {
		var rawQuery string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawQuery = r.URL.RawQuery
			w.Write([]byte(workResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		_, err := client.Work(context.Background(), "10.1038/s41586-021-03819-2")
		require.NoError(t, err)
		assert.Empty(t, rawQuery)
	})

	t.Run("unknown DOI maps to not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Resource not found."))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		_, err := client.Work(context.Background(), "10.9999/does-not-exist")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects malformed DOI without a request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		_, err := client.Work(context.Background(), "not-a-doi")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("returns error on server failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		_, err := client.Work(context.Background(), "10.1038/s41586-021-03819-2")
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	})

	t.Run("returns error on malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		_, err := client.Work(context.Background(), "10.1038/s41586-021-03819-2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing crossref response")
	})
}

func TestClient_WorkTitle(t *testing.T) {
	t.Run("returns the primary title", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(workResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		title, err := client.WorkTitle(context.Background(), "10.1038/s41586-021-03819-2")
		require.NoError(t, err)
		assert.Equal(t, "Highly accurate protein structure prediction with AlphaFold", title)
	})

	t.Run("empty title list yields empty string", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok","message":{"DOI":"10.1234/untitled","title":[]}}`))
		}))
		defer server.Close()

		client := createTestClient(server.URL, "")

		title, err := client.WorkTitle(context.Background(), "10.1234/untitled")
		require.NoError(t, err)
		assert.Empty(t, title)
	})
}

// createTestClient creates a test client pointed at the given base URL.
func createTestClient(baseURL, mailto string) *Client {
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:        sourceName,
		RateLimit:     100,
		BurstSize:     10,
		RetrySchedule: []time.Duration{time.Millisecond},
	})

	return NewWithHTTPClient(Config{
		BaseURL: baseURL,
		Mailto:  mailto,
	}, httpClient)
}
