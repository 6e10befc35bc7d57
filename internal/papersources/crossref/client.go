// Package crossref provides a minimal client for the CrossRef works API.
//
// The resolver uses it to recover a paper's title from its DOI when Europe
// PMC has no record of the DOI itself. It is intentionally not a full
// papersources.PaperSource; CrossRef carries no PMC identifiers, so it
// cannot serve search traffic on its own.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/papersources"
)

const (
	// DefaultBaseURL is the CrossRef REST API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit keeps lookup traffic at one request per second.
	DefaultRateLimit = 1.0

	// DefaultTimeout bounds a single metadata lookup.
	DefaultTimeout = 10 * time.Second

	sourceName = "crossref"
)

// Config holds CrossRef client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	BurstSize int

	// Mailto is sent with every request so CrossRef can route traffic to
	// its polite pool. Optional but recommended.
	Mailto string

	Metrics *observability.Metrics
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 1
	}
}

// Client calls the CrossRef works API.
type Client struct {
	config Config
	http   *papersources.HTTPClient
}

// Work is the subset of CrossRef work metadata the resolver consumes.
type Work struct {
	DOI     string
	Title   string
	Journal string
	Year    string
	Authors []domain.Author
}

// New creates a CrossRef client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    sourceName,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		Metrics:   cfg.Metrics,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// NewWithHTTPClient creates a CrossRef client with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, http: httpClient}
}

// Work fetches metadata for a single DOI. Returns domain.ErrNotFound when
// CrossRef has no record of the DOI.
func (c *Client) Work(ctx context.Context, doi string) (*Work, error) {
	doi = strings.TrimSpace(doi)
	if !domain.ValidateDOI(doi) {
		return nil, fmt.Errorf("%w: %q is not a DOI", domain.ErrInvalidInput, doi)
	}

	u, err := url.Parse(c.config.BaseURL + "/works/" + url.PathEscape(doi))
	if err != nil {
		return nil, fmt.Errorf("building crossref URL: %w", err)
	}
	if c.config.Mailto != "" {
		q := u.Query()
		q.Set("mailto", c.config.Mailto)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating crossref request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crossref work %q: %w", doi, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("crossref work %q: %w", doi, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	var parsed workResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing crossref response for %q: %w", doi, err)
	}

	return parsed.Message.toWork(), nil
}

// WorkTitle fetches just the primary title for a DOI. Returns an empty
// string without error when the record exists but carries no title.
func (c *Client) WorkTitle(ctx context.Context, doi string) (string, error) {
	work, err := c.Work(ctx, doi)
	if err != nil {
		return "", err
	}
	return work.Title, nil
}

type workResponse struct {
	Status  string      `json:"status"`
	Message workMessage `json:"message"`
}

type workMessage struct {
	DOI            string       `json:"DOI"`
	Title          []string     `json:"title"`
	ContainerTitle []string     `json:"container-title"`
	Author         []workAuthor `json:"author"`
	Issued         dateParts    `json:"issued"`
}

type workAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
	ORCID  string `json:"ORCID"`
}

type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

func (m workMessage) toWork() *Work {
	work := &Work{DOI: m.DOI}
	if len(m.Title) > 0 {
		work.Title = strings.TrimSpace(m.Title[0])
	}
	if len(m.ContainerTitle) > 0 {
		work.Journal = strings.TrimSpace(m.ContainerTitle[0])
	}
	if len(m.Issued.DateParts) > 0 && len(m.Issued.DateParts[0]) > 0 {
		work.Year = strconv.Itoa(m.Issued.DateParts[0][0])
	}
	for _, a := range m.Author {
		name := a.displayName()
		if name == "" {
			continue
		}
		work.Authors = append(work.Authors, domain.Author{Name: name, ORCID: a.ORCID})
	}
	return work
}

func (a workAuthor) displayName() string {
	if a.Name != "" {
		return a.Name
	}
	return strings.TrimSpace(a.Given + " " + a.Family)
}
