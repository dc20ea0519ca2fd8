package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/prompts"
	logx "github.com/hoverquill/server/pkg/logger"
)

const (
	// scrapeContentLimit bounds how much scraped page text is folded into
	// the query.
	scrapeContentLimit = 10000
	// snippetContentLimit bounds per-result content in a web search block.
	snippetContentLimit = 2000

	truncationNotice = "... (content truncated)"
)

// Result is one web search hit from a provider.
type Result struct {
	Title   string
	Link    string
	Snippet string
}

// Provider is the out-of-scope search-engine adapter boundary.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Optimizer rewrites a raw query into a search-engine-friendly one. It is an
// optional hook; failures fall back to the original query.
type Optimizer interface {
	Optimize(ctx context.Context, query string) (string, error)
}

// Resolver classifies queries and executes searches/scrapes, always
// returning a structured SearchOutcome instead of raising errors.
type Resolver struct {
	provider   Provider
	optimizer  Optimizer
	httpClient *http.Client
	maxResults int
}

func NewResolver(provider Provider, optimizer Optimizer, maxResults int) *Resolver {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Resolver{
		provider:   provider,
		optimizer:  optimizer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxResults: maxResults,
	}
}

// Classify delegates to the pure classifier.
func (r *Resolver) Classify(query string, qctx QueryContext) Plan {
	return Classify(query, qctx)
}

// Execute performs the planned search or scrape and formats the outcome for
// the assembler. Failures are carried in the outcome, never returned.
func (r *Resolver) Execute(ctx context.Context, plan Plan, selectedText string) *model.SearchOutcome {
	switch plan.Mode {
	case model.SearchModeWebSearch:
		return r.executeSearch(ctx, plan)
	case model.SearchModeLinkScrape:
		return r.executeScrape(ctx, plan)
	default:
		return &model.SearchOutcome{Status: "success", Mode: plan.Mode, Query: plan.Query}
	}
}

func (r *Resolver) executeSearch(ctx context.Context, plan Plan) *model.SearchOutcome {
	outcome := &model.SearchOutcome{Mode: model.SearchModeWebSearch, Query: plan.Query}

	if r.provider == nil {
		outcome.Status = "error"
		outcome.Err = "No search providers are configured. Please add API keys in settings."
		logx.Error().Msg("web search attempted but no search providers are available")
		return outcome
	}

	searchQuery := plan.Query
	if r.optimizer != nil {
		if optimized, err := r.optimizer.Optimize(ctx, plan.Query); err != nil {
			logx.Warn().Err(err).Msg("query optimization failed, using original query")
		} else if strings.TrimSpace(optimized) != "" {
			searchQuery = strings.TrimSpace(optimized)
		}
	}

	results, err := r.provider.Search(ctx, searchQuery, r.maxResults)
	if err != nil {
		outcome.Status = "error"
		outcome.Err = err.Error()
		logx.Error().Err(err).Str("query", searchQuery).Msg("web search failed")
		return outcome
	}
	if len(results) == 0 {
		outcome.Status = "error"
		outcome.Err = "No search results found."
		return outcome
	}

	block := formatSearchResults(plan.Query, searchQuery, results)
	outcome.Status = "success"
	outcome.Query = fmt.Sprintf("%sBased on the web search results above, please answer: %s", block, plan.OriginalQuery)
	outcome.SystemInstruction = prompts.WebResultsInstruction()
	return outcome
}

func (r *Resolver) executeScrape(ctx context.Context, plan Plan) *model.SearchOutcome {
	outcome := &model.SearchOutcome{Mode: model.SearchModeLinkScrape, Query: plan.Query}

	content, err := r.scrape(ctx, plan.URL)
	if err != nil {
		outcome.Status = "error"
		outcome.Err = fmt.Sprintf("No content could be scraped from the URL: %s (%v)", plan.URL, err)
		logx.Error().Err(err).Str("url", plan.URL).Msg("link scrape failed")
		return outcome
	}
	if len(content) > scrapeContentLimit {
		content = content[:scrapeContentLimit] + truncationNotice
	}

	var b strings.Builder
	b.WriteString("=====SCRAPED_CONTENT=====<content from the provided URL>\n")
	fmt.Fprintf(&b, "Content from %s:\n%s\n\n", plan.URL, content)
	b.WriteString("=======================\n\n")

	outcome.Status = "success"
	outcome.Query = fmt.Sprintf("%sBased on the scraped content above from %s, please answer: %s", b.String(), plan.URL, plan.Query)
	outcome.SystemInstruction = prompts.ScrapedContentInstruction()
	return outcome
}

// Search exposes the web-search path as a confirmable tool: it returns the
// formatted results block for a plain query.
func (r *Resolver) Search(ctx context.Context, query string) (string, error) {
	if r.provider == nil {
		return "", fmt.Errorf("no search providers are configured")
	}
	results, err := r.provider.Search(ctx, query, r.maxResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no search results found")
	}
	return formatSearchResults(query, query, results), nil
}

func (r *Resolver) scrape(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "hoverquill/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	markdown, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", fmt.Errorf("page yielded no content")
	}
	return markdown, nil
}

func formatSearchResults(originalQuery, optimizedQuery string, results []Result) string {
	var b strings.Builder
	b.WriteString("=====WEB_SEARCH_RESULTS=====<results from web search>\n")
	if originalQuery != optimizedQuery {
		fmt.Fprintf(&b, "Original Query: %s\n", originalQuery)
		fmt.Fprintf(&b, "Optimized Query: %s\n\n", optimizedQuery)
	}
	b.WriteString("Search Results:\n")
	for i, sr := range results {
		snippet := sr.Snippet
		if len(snippet) > snippetContentLimit {
			snippet = snippet[:snippetContentLimit] + truncationNotice
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, sr.Title)
		fmt.Fprintf(&b, "   URL: %s\n", sr.Link)
		fmt.Fprintf(&b, "   Snippet: %s\n\n", snippet)
	}
	b.WriteString("=======================\n\n")
	return b.String()
}
