package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	serperEndpoint = "https://google.serper.dev/search"
	tavilyEndpoint = "https://api.tavily.com/search"
)

// NewProvider selects a search-engine adapter by name. An empty name means
// no provider is configured and web search degrades with its usual error
// outcome.
func NewProvider(name, apiKey string) (Provider, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return nil, nil
	case "serper":
		if apiKey == "" {
			return nil, fmt.Errorf("serper provider requires an API key")
		}
		return &serperProvider{apiKey: apiKey, endpoint: serperEndpoint, client: client}, nil
	case "tavily":
		if apiKey == "" {
			return nil, fmt.Errorf("tavily provider requires an API key")
		}
		return &tavilyProvider{apiKey: apiKey, endpoint: tavilyEndpoint, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s", name)
	}
}

type serperProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (p *serperProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": maxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}

	results := make([]Result, 0, len(body.Organic))
	for _, hit := range body.Organic {
		results = append(results, Result{Title: hit.Title, Link: hit.Link, Snippet: hit.Snippet})
	}
	return capResults(results, maxResults), nil
}

type tavilyProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (p *tavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload, err := json.Marshal(map[string]any{
		"api_key":     p.apiKey,
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}

	results := make([]Result, 0, len(body.Results))
	for _, hit := range body.Results {
		results = append(results, Result{Title: hit.Title, Link: hit.URL, Snippet: hit.Content})
	}
	return capResults(results, maxResults), nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func capResults(results []Result, maxResults int) []Result {
	if maxResults > 0 && len(results) > maxResults {
		return results[:maxResults]
	}
	return results
}
