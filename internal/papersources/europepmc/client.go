package europepmc

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/papersources"
)

const (
	// DefaultBaseURL is the Europe PMC REST API endpoint.
	DefaultBaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 3.0

	// DefaultTimeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults per search when not specified.
	DefaultMaxResults = 200

	// MaxPageSize is the largest page the search endpoint serves.
	MaxPageSize = 500

	// lookupPageSize is the page size for DOI and title lookups, which
	// only need the first few hits.
	lookupPageSize = 25

	sourceName = "europepmc"
)

// Config holds Europe PMC client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool
	Logger     zerolog.Logger
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
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 1
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client queries the Europe PMC REST API.
type Client struct {
	config Config
	http   *papersources.HTTPClient
	logger zerolog.Logger
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a Europe PMC client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    sourceName,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		Metrics:   cfg.Metrics,
	})
	return &Client{config: cfg, http: httpClient, logger: cfg.Logger}
}

// NewWithHTTPClient creates a Europe PMC client using the provided HTTP
// client. Used in tests to point the client at a local server.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, http: httpClient, logger: cfg.Logger}
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeEuropePMC
}

// Name returns the human-readable source name.
func (c *Client) Name() string {
	return "Europe PMC"
}

// IsEnabled reports whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Search queries Europe PMC and returns matching paper records. Results are
// fetched page by page using cursor marks until the limit is reached or the
// cursor is exhausted. With RequirePMCID set, the query is restricted to
// records that have a PMC identifier.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	query := translateQuery(params.Query)
	if params.RequirePMCID {
		query = withPMCIDFilter(query)
	}

	papers := make([]domain.PaperRecord, 0, limit)
	pageSize := min(MaxPageSize, limit)
	cursor := "*"
	hitCount := 0

	for len(papers) < limit {
		page, err := c.searchPage(ctx, query, pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("europepmc search %q: %w", params.Query, err)
		}
		hitCount = page.HitCount

		for _, res := range page.ResultList.Result {
			papers = append(papers, resultToPaper(res))
		}

		// An empty page means the cursor is exhausted even if the
		// server minted a new mark.
		if len(page.ResultList.Result) == 0 {
			break
		}
		if page.NextCursorMark == "" || page.NextCursorMark == cursor {
			break
		}
		cursor = page.NextCursorMark

		if remaining := limit - len(papers); remaining < pageSize {
			pageSize = remaining
		}
	}
	if len(papers) > limit {
		papers = papers[:limit]
	}

	withPMCID := 0
	for _, p := range papers {
		if p.PMCID != "" {
			withPMCID++
		}
	}
	c.logger.Debug().
		Str("query", params.Query).
		Int("hit_count", hitCount).
		Int("returned", len(papers)).
		Int("with_pmcid", withPMCID).
		Bool("require_pmcid", params.RequirePMCID).
		Msg("europe pmc search complete")

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   hitCount,
		Source:         domain.SourceTypeEuropePMC,
		SearchDuration: time.Since(start),
	}, nil
}

// SearchByDOI returns the records matching an exact DOI query. Callers
// should verify the DOI on the returned records; Europe PMC may return
// near matches.
func (c *Client) SearchByDOI(ctx context.Context, doi string) ([]Result, error) {
	page, err := c.searchPage(ctx, `doi:"`+doi+`"`, lookupPageSize, "*")
	if err != nil {
		return nil, fmt.Errorf("europepmc doi lookup %q: %w", doi, err)
	}
	return page.ResultList.Result, nil
}

// SearchByTitle returns the records matching an exact title query.
func (c *Client) SearchByTitle(ctx context.Context, title string) ([]Result, error) {
	page, err := c.searchPage(ctx, `title:"`+title+`"`, lookupPageSize, "*")
	if err != nil {
		return nil, fmt.Errorf("europepmc title lookup %q: %w", title, err)
	}
	return page.ResultList.Result, nil
}

// FullTextAbstract fetches the open-access full-text XML for a PMC article
// and extracts its abstract. Returns an empty string when the article has no
// accessible full text or no abstract.
func (c *Client) FullTextAbstract(ctx context.Context, pmcid string) (string, error) {
	id := domain.NormalizePMCID(pmcid)
	if id == "" {
		return "", fmt.Errorf("%w: %q is not a PMCID", domain.ErrInvalidInput, pmcid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/"+id+"/fullTextXML", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No open-access full text for this article.
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", domain.NewExternalAPIError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	abstract, err := extractAbstract(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("parsing full text XML for %s: %w", id, err)
	}
	return abstract, nil
}

// searchPage performs a single /search request.
func (c *Client) searchPage(ctx context.Context, query string, pageSize int, cursor string) (*searchResponse, error) {
	u, err := url.Parse(c.config.BaseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("parsing search URL: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	q.Set("resulttype", "core")
	q.Set("format", "json")
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("cursorMark", cursor)
	q.Set("synonym", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	var page searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &page, nil
}

func resultToPaper(res Result) domain.PaperRecord {
	return domain.PaperRecord{
		PMID:     res.PMID,
		PMCID:    domain.NormalizePMCID(res.PMCID),
		DOI:      strings.TrimSpace(res.DOI),
		Title:    strings.TrimSpace(res.Title),
		Authors:  res.Authors(),
		Journal:  res.Journal(),
		Year:     res.PubYear,
		Abstract: res.AbstractText,
		Source:   domain.SourceTypeEuropePMC,
	}
}

// withPMCIDFilter restricts a query to records carrying a PMC identifier.
func withPMCIDFilter(query string) string {
	if strings.TrimSpace(query) == "" {
		return "pmcid:*"
	}
	return "(" + query + ") AND pmcid:*"
}

// yearValuePattern validates the value of a year: filter.
var yearValuePattern = regexp.MustCompile(`^\d{4}$`)

// translateQuery converts portable query sugar into Europe PMC syntax:
// year:2020 becomes FIRST_PDATE:2020, and title:, author:, journal: and
// abstract: map to the TITLE:, AUTH:, JOURNAL: and ABSTRACT: fields with
// quoted values. Lowercase boolean operators are uppercased.
func translateQuery(query string) string {
	query = papersources.TranslateFields(query, func(field, value string) string {
		switch field {
		case "year":
			if !yearValuePattern.MatchString(value) {
				return field + ":" + value
			}
			return "FIRST_PDATE:" + value
		case "title":
			return "TITLE:" + papersources.QuoteTerm(value)
		case "author":
			return "AUTH:" + papersources.QuoteTerm(value)
		case "journal":
			return "JOURNAL:" + papersources.QuoteTerm(value)
		case "abstract":
			return "ABSTRACT:" + papersources.QuoteTerm(value)
		}
		return field + ":" + value
	})
	return papersources.UppercaseBooleans(query)
}

// extractAbstract pulls the text of the first abstract element from a JATS
// full-text XML document, collapsing whitespace between nested elements.
func extractAbstract(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
			} else if t.Name.Local == "abstract" {
				depth = 1
			}
		case xml.EndElement:
			if depth > 0 {
				depth--
				if depth == 0 {
					return strings.Join(strings.Fields(sb.String()), " "), nil
				}
			}
		case xml.CharData:
			if depth > 0 {
				sb.Write(t)
				sb.WriteByte(' ')
			}
		}
	}
	return strings.Join(strings.Fields(sb.String()), " "), nil
}
