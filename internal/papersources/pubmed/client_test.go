package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/papersources"
)

// Sample JSON responses for testing.
const esearchResponseJSON = `{
	"header": {"type": "esearch", "version": "0.3"},
	"esearchresult": {
		"count": "2",
		"retmax": "2",
		"retstart": "0",
		"idlist": ["12345678", "87654321"],
		"querytranslation": "crispr[All Fields]"
	}
}`

const esearchEmptyResponseJSON = `{
	"header": {"type": "esearch", "version": "0.3"},
	"esearchresult": {
		"count": "0",
		"retmax": "0",
		"retstart": "0",
		"idlist": []
	}
}`

const esearchPhraseNotFoundJSON = `{
	"header": {"type": "esearch", "version": "0.3"},
	"esearchresult": {
		"count": "0",
		"retmax": "0",
		"retstart": "0",
		"idlist": [],
		"errorlist": {
			"phrasesnotfound": ["nonexistent_term_xyz"],
			"fieldsnotfound": []
		}
	}
}`

const esummaryResponseJSON = `{
	"header": {"type": "esummary", "version": "0.3"},
	"result": {
		"uids": ["12345678", "87654321"],
		"12345678": {
			"uid": "12345678",
			"pubdate": "2023 Mar 15",
			"epubdate": "2023 Feb 28",
			"source": "J Test",
			"authors": [
				{"name": "Smith JA", "authtype": "Author"},
				{"name": "Johnson E", "authtype": "Author"}
			],
			"title": "CRISPR-Cas9 Gene Editing in Biomedical Research",
			"fulljournalname": "Journal of Testing",
			"elocationid": "doi: 10.1234/test.2023.001",
			"articleids": [
				{"idtype": "pubmed", "value": "12345678"},
				{"idtype": "doi", "value": "10.1234/test.2023.001"},
				{"idtype": "pmc", "value": "PMC9876543"}
			]
		},
		"87654321": {
			"uid": "87654321",
			"pubdate": "2022 Jan-Feb",
			"source": "Mol Ther Methods",
			"authors": [
				{"name": "Brown M", "authtype": "Author"}
			],
			"title": "Advances in Gene Therapy Delivery Systems",
			"articleids": [
				{"idtype": "pubmed", "value": "87654321"},
				{"idtype": "doi", "value": "10.5678/mol.2022.050"}
			]
		}
	}
}`

const esummaryErrorDocJSON = `{
	"header": {"type": "esummary", "version": "0.3"},
	"result": {
		"uids": ["12345678", "99999999"],
		"12345678": {
			"uid": "12345678",
			"pubdate": "2023 Mar 15",
			"title": "CRISPR-Cas9 Gene Editing in Biomedical Research",
			"articleids": [
				{"idtype": "pubmed", "value": "12345678"}
			]
		},
		"99999999": {
			"uid": "99999999",
			"error": "cannot get document summary"
		}
	}
}`

func TestNewClient(t *testing.T) {
	t.Run("creates client with default config", func(t *testing.T) {
		cfg := Config{Enabled: true}
		client := New(cfg)

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
		assert.Equal(t, DefaultTimeout, client.config.Timeout)
		assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
		assert.Equal(t, 1, client.config.BurstSize)
		assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
		assert.True(t, client.IsEnabled())
	})

	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := Config{
			BaseURL:    "https://custom.api.example.com",
			APIKey:     "test-api-key",
			Email:      "dev@example.com",
			Timeout:    60 * time.Second,
			RateLimit:  5.0,
			BurstSize:  5,
			MaxResults: 50,
			Enabled:    true,
		}
		client := New(cfg)

		require.NotNil(t, client)
		assert.Equal(t, cfg.BaseURL, client.config.BaseURL)
		assert.Equal(t, cfg.APIKey, client.config.APIKey)
		assert.Equal(t, cfg.Email, client.config.Email)
		assert.Equal(t, cfg.Timeout, client.config.Timeout)
		assert.Equal(t, cfg.RateLimit, client.config.RateLimit)
		assert.Equal(t, cfg.MaxResults, client.config.MaxResults)
	})

	t.Run("api key raises default rate limit to 10 req/sec", func(t *testing.T) {
		client := New(Config{APIKey: "test-key", Enabled: true})
		assert.Equal(t, apiKeyRateLimit, client.config.RateLimit)
	})

	t.Run("explicit rate limit wins over api key default", func(t *testing.T) {
		client := New(Config{APIKey: "test-key", RateLimit: 2.0, Enabled: true})
		assert.Equal(t, 2.0, client.config.RateLimit)
	})

	t.Run("caps max results at the API limit", func(t *testing.T) {
		client := New(Config{MaxResults: 50000, Enabled: true})
		assert.Equal(t, MaxResultsLimit, client.config.MaxResults)
	})

	t.Run("creates disabled client", func(t *testing.T) {
		client := New(Config{Enabled: false})
		require.NotNil(t, client)
		assert.False(t, client.IsEnabled())
	})
}

func TestClient_SourceType(t *testing.T) {
	client := New(Config{Enabled: true})
	assert.Equal(t, domain.SourceTypePubMed, client.SourceType())
}

func TestClient_Name(t *testing.T) {
	client := New(Config{Enabled: true})
	assert.Equal(t, "PubMed", client.Name())
}

func TestClient_Search(t *testing.T) {
	t.Run("successful search with results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Write([]byte(esearchResponseJSON))
			} else if strings.Contains(r.URL.Path, "esummary.fcgi") {
				w.Write([]byte(esummaryResponseJSON))
			}
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{
			Query:      "CRISPR gene editing",
			MaxResults: 10,
		})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, 2, result.TotalResults)
		assert.Equal(t, domain.SourceTypePubMed, result.Source)
		require.Len(t, result.Papers, 2)

		paper1 := result.Papers[0]
		assert.Equal(t, "12345678", paper1.PMID)
		assert.Equal(t, "PMC9876543", paper1.PMCID)
		assert.Equal(t, "10.1234/test.2023.001", paper1.DOI)
		assert.Equal(t, "CRISPR-Cas9 Gene Editing in Biomedical Research", paper1.Title)
		assert.Equal(t, "Journal of Testing", paper1.Journal)
		assert.Equal(t, "2023", paper1.Year)
		assert.Equal(t, domain.SourceTypePubMed, paper1.Source)
		require.Len(t, paper1.Authors, 2)
		assert.Equal(t, "Smith JA", paper1.Authors[0].Name)
		assert.Equal(t, "Johnson E", paper1.Authors[1].Name)

		paper2 := result.Papers[1]
		assert.Equal(t, "87654321", paper2.PMID)
		assert.Empty(t, paper2.PMCID)
		assert.Equal(t, "10.5678/mol.2022.050", paper2.DOI)
		assert.Equal(t, "Mol Ther Methods", paper2.Journal)
		assert.Equal(t, "2022", paper2.Year)
	})

	t.Run("preserves esearch ranking order", func(t *testing.T) {
		esearch := `{"esearchresult": {"count": "3", "idlist": ["33333333", "11111111", "22222222"]}}`
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Write([]byte(esearch))
				return
			}
			// uids deliberately sorted differently from the esearch order
			w.Write([]byte(esummaryFor("11111111", "22222222", "33333333")))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.NoError(t, err)
		require.Len(t, result.Papers, 3)

		var pmids []string
		for _, p := range result.Papers {
			pmids = append(pmids, p.PMID)
		}
		assert.Equal(t, []string{"33333333", "11111111", "22222222"}, pmids)
	})

	t.Run("sends translated query and retmax", func(t *testing.T) {
		var receivedTerm, receivedRetMax string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				receivedTerm = r.URL.Query().Get("term")
				receivedRetMax = r.URL.Query().Get("retmax")
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchEmptyResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		_, err := client.Search(context.Background(), papersources.SearchParams{
			Query:      "author:Smith and cancer year:2020",
			MaxResults: 25,
		})
		require.NoError(t, err)

		assert.Equal(t, "Smith[AU] AND cancer 2020[pdat]", receivedTerm)
		assert.Equal(t, "25", receivedRetMax)
	})

	t.Run("clamps retmax to the configured maximum", func(t *testing.T) {
		var receivedRetMax string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedRetMax = r.URL.Query().Get("retmax")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchEmptyResponseJSON))
		}))
		defer server.Close()

		httpClient := newTestHTTPClient()
		client := NewWithHTTPClient(Config{BaseURL: server.URL, MaxResults: 5, Enabled: true}, httpClient)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "test", MaxResults: 50})
		require.NoError(t, err)
		assert.Equal(t, "5", receivedRetMax)
	})

	t.Run("sends api_key and email parameters", func(t *testing.T) {
		var receivedAPIKey, receivedEmail string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedAPIKey = r.URL.Query().Get("api_key")
			receivedEmail = r.URL.Query().Get("email")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchEmptyResponseJSON))
		}))
		defer server.Close()

		httpClient := newTestHTTPClient()
		client := NewWithHTTPClient(Config{
			BaseURL: server.URL,
			APIKey:  "test-api-key-123",
			Email:   "dev@example.com",
			Enabled: true,
		}, httpClient)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.NoError(t, err)

		assert.Equal(t, "test-api-key-123", receivedAPIKey)
		assert.Equal(t, "dev@example.com", receivedEmail)
	})

	t.Run("search returns empty results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchEmptyResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "nonexistent query xyz"})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, 0, result.TotalResults)
		assert.Empty(t, result.Papers)
	})

	t.Run("treats phrase not found as empty result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchPhraseNotFoundJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "nonexistent_term_xyz"})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, 0, result.TotalResults)
		assert.Empty(t, result.Papers)
	})

	t.Run("reports total hit count beyond returned page", func(t *testing.T) {
		esearch := `{"esearchresult": {"count": "250", "idlist": ["12345678", "87654321"]}}`
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Write([]byte(esearch))
				return
			}
			w.Write([]byte(esummaryResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.NoError(t, err)
		assert.Equal(t, 250, result.TotalResults)
		assert.Len(t, result.Papers, 2)
	})

	t.Run("filters papers without PMCID when required", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Write([]byte(esearchResponseJSON))
				return
			}
			w.Write([]byte(esummaryResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{
			Query:        "test",
			RequirePMCID: true,
		})
		require.NoError(t, err)
		require.Len(t, result.Papers, 1)
		assert.Equal(t, "PMC9876543", result.Papers[0].PMCID)
	})

	t.Run("skips documents the API flagged with an error", func(t *testing.T) {
		esearch := `{"esearchresult": {"count": "2", "idlist": ["12345678", "99999999"]}}`
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Write([]byte(esearch))
				return
			}
			w.Write([]byte(esummaryErrorDocJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.NoError(t, err)
		require.Len(t, result.Papers, 1)
		assert.Equal(t, "12345678", result.Papers[0].PMID)
	})

	t.Run("skips PMIDs missing from the summary response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Write([]byte(esearchResponseJSON))
				return
			}
			w.Write([]byte(esummaryFor("12345678")))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.NoError(t, err)
		require.Len(t, result.Papers, 1)
		assert.Equal(t, "12345678", result.Papers[0].PMID)
	})

	t.Run("search handles esearch error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pubmed search")

		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	})

	t.Run("search handles esummary error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "esearch.fcgi") {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(esearchResponseJSON))
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "test"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pubmed summaries")
	})

	t.Run("search respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.Search(ctx, papersources.SearchParams{Query: "test"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "canceled"))
	})
}

func TestClient_Summaries(t *testing.T) {
	t.Run("returns summaries for a single batch", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "pubmed", r.URL.Query().Get("db"))
			assert.Equal(t, "12345678,87654321", r.URL.Query().Get("id"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esummaryResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		docs, err := client.Summaries(context.Background(), []string{"12345678", "87654321"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, int32(1), calls.Load())

		doc, ok := docs["12345678"]
		require.True(t, ok)
		assert.Equal(t, "PMC9876543", doc.PMCID())
	})

	t.Run("returns empty map without requests for no PMIDs", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		docs, err := client.Summaries(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, docs)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("splits large requests into batches of 50", func(t *testing.T) {
		pmids := make([]string, 120)
		for i := range pmids {
			pmids[i] = strconv.Itoa(10000000 + i)
		}

		var calls atomic.Int32
		var batchSizes []int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			ids := strings.Split(r.URL.Query().Get("id"), ",")
			batchSizes = append(batchSizes, len(ids))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esummaryFor(ids...)))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		docs, err := client.Summaries(context.Background(), pmids)
		require.NoError(t, err)
		assert.Len(t, docs, 120)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, []int{50, 50, 20}, batchSizes)
	})

	t.Run("tolerates a failed batch and keeps the rest", func(t *testing.T) {
		pmids := make([]string, 120)
		for i := range pmids {
			pmids[i] = strconv.Itoa(10000000 + i)
		}

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			ids := strings.Split(r.URL.Query().Get("id"), ",")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esummaryFor(ids...)))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		docs, err := client.Summaries(context.Background(), pmids)
		require.NoError(t, err)
		assert.Len(t, docs, 70)
	})

	t.Run("fails when every batch fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		docs, err := client.Summaries(context.Background(), []string{"12345678"})
		require.Error(t, err)
		assert.Nil(t, docs)

		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	})
}

func TestClient_PMIDs(t *testing.T) {
	t.Run("returns ids and the reported total", func(t *testing.T) {
		var receivedTerm, receivedRetMax string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedTerm = r.URL.Query().Get("term")
			receivedRetMax = r.URL.Query().Get("retmax")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		ids, total, err := client.PMIDs(context.Background(), "title:crispr", 100)
		require.NoError(t, err)

		assert.Equal(t, []string{"12345678", "87654321"}, ids)
		assert.Equal(t, 2, total)
		assert.Equal(t, "crispr[Title]", receivedTerm)
		assert.Equal(t, "100", receivedRetMax)
	})

	t.Run("clamps the limit to the esearch cap", func(t *testing.T) {
		var receivedRetMax string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedRetMax = r.URL.Query().Get("retmax")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchEmptyResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		_, _, err := client.PMIDs(context.Background(), "test", 99999)
		require.NoError(t, err)
		assert.Equal(t, "10000", receivedRetMax)
	})

	t.Run("defaults a non-positive limit", func(t *testing.T) {
		var receivedRetMax string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedRetMax = r.URL.Query().Get("retmax")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(esearchEmptyResponseJSON))
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		_, _, err := client.PMIDs(context.Background(), "test", 0)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(DefaultMaxResults), receivedRetMax)
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)

		_, _, err := client.PMIDs(context.Background(), "test", 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pubmed id search")
	})
}

func TestDocSummary_DOI(t *testing.T) {
	t.Run("prefers articleids entry", func(t *testing.T) {
		doc := DocSummary{
			ELocationID: "doi: 10.9999/other",
			ArticleIDs: []ArticleID{
				{IDType: "pubmed", Value: "12345678"},
				{IDType: "doi", Value: " 10.1234/test "},
			},
		}
		assert.Equal(t, "10.1234/test", doc.DOI())
	})

	t.Run("falls back to elocationid", func(t *testing.T) {
		doc := DocSummary{ELocationID: "doi: 10.1234/eloc.001"}
		assert.Equal(t, "10.1234/eloc.001", doc.DOI())
	})

	t.Run("empty without DOI", func(t *testing.T) {
		doc := DocSummary{
			ELocationID: "pii: S0000-0000(21)00000-1",
			ArticleIDs:  []ArticleID{{IDType: "pubmed", Value: "12345678"}},
		}
		assert.Empty(t, doc.DOI())
	})
}

func TestDocSummary_PMCID(t *testing.T) {
	t.Run("normalizes the pmc entry", func(t *testing.T) {
		doc := DocSummary{ArticleIDs: []ArticleID{{IDType: "pmc", Value: "pmc9876543"}}}
		assert.Equal(t, "PMC9876543", doc.PMCID())
	})

	t.Run("empty without pmc entry", func(t *testing.T) {
		doc := DocSummary{ArticleIDs: []ArticleID{{IDType: "doi", Value: "10.1234/test"}}}
		assert.Empty(t, doc.PMCID())
	})
}

func TestDocSummary_Year(t *testing.T) {
	tests := []struct {
		pubdate  string
		expected string
	}{
		{"2023 Mar 15", "2023"},
		{"2022 Jan-Feb", "2022"},
		{"2021 Spring", "2021"},
		{"2019-2020", "2019"},
		{"2022", "2022"},
		{"", ""},
		{"In press", ""},
	}

	for _, tt := range tests {
		t.Run(tt.pubdate, func(t *testing.T) {
			doc := DocSummary{PubDate: tt.pubdate}
			assert.Equal(t, tt.expected, doc.Year())
		})
	}
}

func TestDocSummary_Journal(t *testing.T) {
	t.Run("prefers full journal name", func(t *testing.T) {
		doc := DocSummary{FullJournalName: "Journal of Testing", Source: "J Test"}
		assert.Equal(t, "Journal of Testing", doc.Journal())
	})

	t.Run("falls back to source abbreviation", func(t *testing.T) {
		doc := DocSummary{Source: "J Test"}
		assert.Equal(t, "J Test", doc.Journal())
	})
}

func TestESummaryResult_UnmarshalJSON(t *testing.T) {
	t.Run("decodes uid-keyed documents", func(t *testing.T) {
		var parsed esummaryResponse
		err := json.Unmarshal([]byte(esummaryResponseJSON), &parsed)
		require.NoError(t, err)

		assert.Equal(t, []string{"12345678", "87654321"}, parsed.Result.UIDs)
		require.Len(t, parsed.Result.Docs, 2)
		assert.Equal(t, "CRISPR-Cas9 Gene Editing in Biomedical Research", parsed.Result.Docs["12345678"].Title)
	})

	t.Run("skips entries that are not documents", func(t *testing.T) {
		payload := `{"result": {"uids": ["111", "222"], "111": {"uid": "111", "title": "Good"}, "222": 42}}`

		var parsed esummaryResponse
		err := json.Unmarshal([]byte(payload), &parsed)
		require.NoError(t, err)

		require.Len(t, parsed.Result.Docs, 1)
		assert.Equal(t, "Good", parsed.Result.Docs["111"].Title)
	})

	t.Run("ignores uids missing from the object", func(t *testing.T) {
		payload := `{"result": {"uids": ["111", "222"], "111": {"uid": "111", "title": "Good"}}}`

		var parsed esummaryResponse
		err := json.Unmarshal([]byte(payload), &parsed)
		require.NoError(t, err)

		require.Len(t, parsed.Result.Docs, 1)
		_, ok := parsed.Result.Docs["222"]
		assert.False(t, ok)
	})
}

func TestTranslateQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{"plain query unchanged", "crispr cancer", "crispr cancer"},
		{"year filter", "year:2020", "2020[pdat]"},
		{"journal filter adds quotes", "journal:Nature", `"Nature"[TA]`},
		{"quoted journal kept", `journal:"Nat Med"`, `"Nat Med"[TA]`},
		{"author filter", "author:Smith", "Smith[AU]"},
		{"quoted author kept", `author:"Smith J"`, `"Smith J"[AU]`},
		{"title filter", "title:CRISPR", "CRISPR[Title]"},
		{"quoted title kept", `title:"gene editing"`, `"gene editing"[Title]`},
		{"abstract filter", "abstract:therapy", "therapy[Abstract]"},
		{"booleans uppercased", "cancer and therapy or surgery not mice", "cancer AND therapy OR surgery NOT mice"},
		{"booleans inside quotes preserved", `"cat and dog" or bird`, `"cat and dog" OR bird`},
		{"invalid year left alone", "year:recent", "year:recent"},
		{"combined filters", "author:Smith and year:2020 crispr", "Smith[AU] AND 2020[pdat] crispr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, translateQuery(tt.query))
		})
	}
}

// esummaryFor builds a minimal esummary response covering the given PMIDs.
func esummaryFor(pmids ...string) string {
	result := map[string]any{"uids": pmids}
	for _, id := range pmids {
		result[id] = map[string]any{
			"uid":     id,
			"title":   "Paper " + id,
			"pubdate": "2023 Jan",
			"articleids": []map[string]string{
				{"idtype": "pubmed", "value": id},
			},
		}
	}
	payload, err := json.Marshal(map[string]any{"result": result})
	if err != nil {
		panic(fmt.Sprintf("marshaling esummary fixture: %v", err))
	}
	return string(payload)
}

// newTestHTTPClient returns an HTTP client tuned for tests: a high rate
// limit and a millisecond retry schedule so failure paths do not sleep.
func newTestHTTPClient() *papersources.HTTPClient {
	return papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:        sourceName,
		RateLimit:     100,
		BurstSize:     10,
		RetrySchedule: []time.Duration{time.Millisecond},
	})
}

// createTestClient creates a test client pointed at the given base URL.
func createTestClient(baseURL string, enabled bool) *Client {
	return NewWithHTTPClient(Config{
		BaseURL: baseURL,
		Enabled: enabled,
	}, newTestHTTPClient())
}
