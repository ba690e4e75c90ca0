package env

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOpenAlexURL = "https://api.openalex.org"
	defaultArxivURL    = "http://export.arxiv.org"
	maxErrorBody       = 512
)

var errNoResults = errors.New("no results")

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

// Paper is a search hit normalized across sources.
type Paper struct {
	Title     string `json:"title"`
	Abstract  string `json:"abstract"`
	Year      int    `json:"year"`
	Citations int    `json:"citations"`
	URL       string `json:"url"`
}

// Searcher queries one paper database.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Paper, error)
}

// OpenAlexClient searches the OpenAlex works API.
type OpenAlexClient struct {
	baseURL string
	mailto  string
	client  *http.Client
}

// NewOpenAlexClient creates a client. An empty baseURL uses the public API;
// mailto joins OpenAlex's polite pool when set.
func NewOpenAlexClient(baseURL, mailto string, timeout time.Duration) *OpenAlexClient {
	if baseURL == "" {
		baseURL = defaultOpenAlexURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenAlexClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		mailto:  mailto,
		client:  &http.Client{Timeout: timeout},
	}
}

type openAlexResponse struct {
	Results []struct {
		ID                    string           `json:"id"`
		Title                 string           `json:"title"`
		DisplayName           string           `json:"display_name"`
		PublicationYear       int              `json:"publication_year"`
		CitedByCount          int              `json:"cited_by_count"`
		AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	} `json:"results"`
}

// Search implements Searcher.
func (c *OpenAlexClient) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	params := url.Values{}
	params.Set("search", query)
	params.Set("per_page", strconv.Itoa(clampLimit(limit, 200)))
	params.Set("sort", "cited_by_count:desc")
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	body, err := c.get(ctx, c.baseURL+"/works?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("openalex: %w", err)
	}
	defer body.Close()

	var resp openAlexResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("openalex decode: %w", err)
	}

	papers := make([]Paper, 0, len(resp.Results))
	for _, w := range resp.Results {
		title := w.Title
		if title == "" {
			title = w.DisplayName
		}
		papers = append(papers, Paper{
			Title:     title,
			Abstract:  rebuildAbstract(w.AbstractInvertedIndex),
			Year:      w.PublicationYear,
			Citations: w.CitedByCount,
			URL:       w.ID,
		})
	}
	return papers, nil
}

func (c *OpenAlexClient) get(ctx context.Context, u string) (io.ReadCloser, error) {
	return doGet(ctx, c.client, u, "application/json")
}

// rebuildAbstract reassembles an OpenAlex inverted index into text.
func rebuildAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type pos struct {
		at   int
		word string
	}
	var words []pos
	for w, positions := range index {
		for _, p := range positions {
			words = append(words, pos{p, w})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].at < words[j].at })
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.word
	}
	return strings.Join(out, " ")
}

// ArxivClient searches the arXiv Atom API.
type ArxivClient struct {
	baseURL string
	client  *http.Client
}

// NewArxivClient creates a client. An empty baseURL uses the public API.
func NewArxivClient(baseURL string, timeout time.Duration) *ArxivClient {
	if baseURL == "" {
		baseURL = defaultArxivURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ArxivClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type atomFeed struct {
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
	} `xml:"entry"`
}

// Search implements Searcher.
func (c *ArxivClient) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(clampLimit(limit, 100)))
	params.Set("sortBy", "relevance")

	body, err := doGet(ctx, c.client, c.baseURL+"/api/query?"+params.Encode(), "application/atom+xml")
	if err != nil {
		return nil, fmt.Errorf("arxiv: %w", err)
	}
	defer body.Close()

	var feed atomFeed
	if err := xml.NewDecoder(body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv decode: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		year := 0
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			year = t.Year()
		}
		papers = append(papers, Paper{
			Title:    collapseSpace(e.Title),
			Abstract: collapseSpace(e.Summary),
			Year:     year,
			URL:      strings.TrimSpace(e.ID),
		})
	}
	return papers, nil
}

func doGet(ctx context.Context, client *http.Client, u, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "researchmind/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	return resp.Body, nil
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return 10
	}
	if limit > max {
		return max
	}
	return limit
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
