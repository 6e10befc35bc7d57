package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/papersources"
)

const (
	// DefaultBaseURL is the NCBI E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the API rate limit in requests per second
	// without an API key. NCBI allows 10 req/s with a key.
	DefaultRateLimit = 3.0

	// apiKeyRateLimit applies when an API key is configured.
	apiKeyRateLimit = 10.0

	// DefaultTimeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults per search when not specified.
	DefaultMaxResults = 200

	// MaxResultsLimit is the hard cap esearch allows for retmax.
	MaxResultsLimit = 10000

	// SummaryBatchSize is the number of PMIDs sent per esummary request.
	SummaryBatchSize = 50

	sourceName = "pubmed"
)

// Config holds PubMed client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Email      string
	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool
	Metrics    *observability.Metrics
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = apiKeyRateLimit
		}
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 1
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxResults > MaxResultsLimit {
		c.MaxResults = MaxResultsLimit
	}
}

// Client queries the PubMed E-utilities API.
type Client struct {
	config Config
	http   *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    sourceName,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		Metrics:   cfg.Metrics,
	})
	return &Client{config: cfg, http: httpClient}
}

// NewWithHTTPClient creates a PubMed client using the provided HTTP client.
// Used in tests to point the client at a local server.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, http: httpClient}
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable source name.
func (c *Client) Name() string {
	return "PubMed"
}

// IsEnabled reports whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Search queries PubMed and returns matching paper records. The search runs
// in two stages: esearch resolves the query to a ranked list of PMIDs, then
// esummary fetches record metadata in batches. Results preserve the esearch
// ranking order.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	ids, total, err := c.esearch(ctx, translateQuery(params.Query), limit)
	if err != nil {
		return nil, fmt.Errorf("pubmed search %q: %w", params.Query, err)
	}

	result := &papersources.SearchResult{
		Papers:         []domain.PaperRecord{},
		TotalResults:   total,
		Source:         domain.SourceTypePubMed,
		SearchDuration: time.Since(start),
	}
	if len(ids) == 0 {
		return result, nil
	}

	summaries, err := c.Summaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("pubmed summaries for %q: %w", params.Query, err)
	}

	for _, id := range ids {
		doc, ok := summaries[id]
		if !ok || doc.Error != "" {
			continue
		}
		paper := summaryToPaper(id, doc)
		if params.RequirePMCID && paper.PMCID == "" {
			continue
		}
		result.Papers = append(result.Papers, paper)
	}
	result.SearchDuration = time.Since(start)
	return result, nil
}

// Summaries fetches esummary records for the given PMIDs, batching requests
// in groups of SummaryBatchSize. A failed batch contributes no entries;
// Summaries returns an error only when every batch fails. PMIDs the API
// cannot resolve are absent from the returned map or carry a non-empty
// Error field.
func (c *Client) Summaries(ctx context.Context, pmids []string) (map[string]DocSummary, error) {
	docs := make(map[string]DocSummary, len(pmids))
	if len(pmids) == 0 {
		return docs, nil
	}

	var firstErr error
	failed := 0
	batches := 0
	for offset := 0; offset < len(pmids); offset += SummaryBatchSize {
		end := offset + SummaryBatchSize
		if end > len(pmids) {
			end = len(pmids)
		}
		batches++

		batch, err := c.summaryBatch(ctx, pmids[offset:end])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		for id, doc := range batch {
			docs[id] = doc
		}
	}
	if failed == batches {
		return nil, firstErr
	}
	return docs, nil
}

// PMIDs resolves a query to matching PMIDs without fetching summaries,
// returning the ids and the total number of matches PubMed reports. The
// total may exceed len(ids) when the query matches more than limit records.
func (c *Client) PMIDs(ctx context.Context, query string, limit int) ([]string, int, error) {
	if limit <= 0 {
		limit = c.config.MaxResults
	}
	if limit > MaxResultsLimit {
		limit = MaxResultsLimit
	}

	ids, total, err := c.esearch(ctx, translateQuery(query), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pubmed id search %q: %w", query, err)
	}
	return ids, total, nil
}

// esearch resolves a query to a ranked list of PMIDs and the total hit count.
func (c *Client) esearch(ctx context.Context, query string, limit int) ([]string, int, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, 0, fmt.Errorf("parsing esearch URL: %w", err)
	}
	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(limit))
	c.addAuthParams(q)
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, 0, err
	}

	var parsed esearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("parsing esearch response: %w", err)
	}
	if parsed.Result.ErrorList != nil && len(parsed.Result.ErrorList.PhrasesNotFound) > 0 {
		// The query referenced phrases PubMed does not index. That is
		// an empty result, not a failure.
		return nil, 0, nil
	}

	total, err := strconv.Atoi(parsed.Result.Count)
	if err != nil {
		total = len(parsed.Result.IDList)
	}
	return parsed.Result.IDList, total, nil
}

// summaryBatch performs a single esummary request for up to
// SummaryBatchSize PMIDs.
func (c *Client) summaryBatch(ctx context.Context, pmids []string) (map[string]DocSummary, error) {
	u, err := url.Parse(c.config.BaseURL + "/esummary.fcgi")
	if err != nil {
		return nil, fmt.Errorf("parsing esummary URL: %w", err)
	}
	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "json")
	c.addAuthParams(q)
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var parsed esummaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing esummary response: %w", err)
	}
	return parsed.Result.Docs, nil
}

// get issues a GET request and returns the response body for 200 responses.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}
	return body, nil
}

// addAuthParams appends the api_key and email query parameters NCBI uses to
// identify callers and lift rate limits.
func (c *Client) addAuthParams(q url.Values) {
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	if c.config.Email != "" {
		q.Set("email", c.config.Email)
	}
}

func summaryToPaper(pmid string, doc DocSummary) domain.PaperRecord {
	authors := make([]domain.Author, 0, len(doc.Authors))
	for _, a := range doc.Authors {
		if a.Name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: a.Name})
	}
	return domain.PaperRecord{
		PMID:    pmid,
		PMCID:   doc.PMCID(),
		DOI:     doc.DOI(),
		Title:   strings.TrimSpace(doc.Title),
		Authors: authors,
		Journal: doc.Journal(),
		Year:    doc.Year(),
		Source:  domain.SourceTypePubMed,
	}
}

// yearValuePattern validates the value of a year: filter.
var yearValuePattern = regexp.MustCompile(`^\d{4}$`)

// translateQuery converts portable query sugar into PubMed term syntax:
// year:2020 becomes 2020[pdat], journal:Nature becomes "Nature"[TA],
// author:Smith becomes Smith[AU], title: and abstract: map to [Title] and
// [Abstract], and lowercase boolean operators are uppercased.
func translateQuery(query string) string {
	query = papersources.TranslateFields(query, func(field, value string) string {
		switch field {
		case "year":
			if !yearValuePattern.MatchString(value) {
				return field + ":" + value
			}
			return value + "[pdat]"
		case "journal":
			return papersources.QuoteTerm(value) + "[TA]"
		case "author":
			return value + "[AU]"
		case "title":
			return value + "[Title]"
		case "abstract":
			return value + "[Abstract]"
		}
		return field + ":" + value
	})
	return papersources.UppercaseBooleans(query)
}
