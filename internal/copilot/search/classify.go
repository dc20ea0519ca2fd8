package search

import (
	"regexp"
	"strings"

	"github.com/hoverquill/server/internal/copilot/model"
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	hashURLPattern = regexp.MustCompile(`#(https?://\S+)`)
)

// Plan is the classification result for one query: what to do, with which
// query text or URL. OriginalQuery is always the unmodified input.
type Plan struct {
	Mode          model.SearchMode
	Query         string
	URL           string
	OriginalQuery string
}

// QueryContext carries the contextual signals classification may consult.
type QueryContext struct {
	SelectedText string
	WebSearch    bool // envelope-level web search flag
}

// Classify decides whether a query is a web-search request, a URL-scrape
// request, or neither. It is a pure function: the pipeline calls it once to
// set a routing flag and again with the same original query to obtain the
// execution plan, and both calls must agree.
func Classify(query string, qctx QueryContext) Plan {
	plan := Plan{Mode: model.SearchModeNone, Query: query, OriginalQuery: query}

	// #URL takes priority over the bare-URL check so the marker is removed
	// from the query text.
	if m := hashURLPattern.FindStringSubmatch(query); m != nil {
		plan.Mode = model.SearchModeLinkScrape
		plan.URL = m[1]
		plan.Query = strings.TrimSpace(strings.Replace(query, "#"+m[1], "", 1))
		return plan
	}

	if u := urlPattern.FindString(query); u != "" && len(u) > 15 && strings.Contains(u, ".") {
		plan.Mode = model.SearchModeLinkScrape
		plan.URL = u
		return plan
	}

	if strings.HasPrefix(strings.TrimSpace(query), "#web ") {
		plan.Mode = model.SearchModeWebSearch
		plan.Query = strings.TrimSpace(strings.Replace(query, "#web ", "", 1))
		return plan
	}
	if strings.Contains(query, "#web") {
		plan.Mode = model.SearchModeWebSearch
		plan.Query = strings.TrimSpace(strings.Replace(query, "#web", "", 1))
		return plan
	}

	if qctx.WebSearch {
		plan.Mode = model.SearchModeWebSearch
		return plan
	}

	return plan
}
