package contextparse

import (
	"strings"

	"github.com/hoverquill/server/internal/copilot/model"
	logx "github.com/hoverquill/server/pkg/logger"
)

const (
	contextMarker = "Context:"
	queryMarker   = "\n\nQuery:\n"

	selectedTextOpen = "=====SELECTED_TEXT====="
	imageDataOpen    = "=====IMAGE_DATA====="
	modeOpen         = "=====MODE====="
	webSearchOpen    = "=====WEB_SEARCH====="
	sectionClose     = "======================="
)

// Parsed holds the fields extracted from one raw query string.
type Parsed struct {
	Query        string
	Mode         model.Mode
	ModeSet      bool
	SelectedText string
	ImageData    string
	UseWebSearch bool
	UseVision    bool
}

// Parse extracts mode, selected text, image payload and web-search flags from
// a raw query. The query may be a plain string or a structured envelope:
//
//	Context:
//	=====SELECTED_TEXT=====<annotation>
//	...
//	=======================
//
//	Query:
//	<text>
//
// Sections also appear in a legacy "Key:" form. Malformed envelopes degrade
// gracefully: a section without its closing delimiter is skipped, an envelope
// without a query marker is treated as a plain query.
func Parse(raw string) Parsed {
	p := Parsed{Query: raw}

	if strings.Contains(raw, "#web") {
		p.UseWebSearch = true
	}

	if !strings.Contains(raw, contextMarker) {
		return p
	}
	contextSection, actualQuery, ok := strings.Cut(raw, queryMarker)
	if !ok {
		logx.Warn().Msg("context envelope without query marker, treating as plain query")
		return p
	}
	contextSection = strings.TrimSpace(strings.Replace(contextSection, contextMarker+"\n", "", 1))
	p.Query = actualQuery

	if v, ok := keyedSection(contextSection, "Selected Text:\n"); ok {
		p.SelectedText = v
	}
	if v, ok := delimitedSection(contextSection, selectedTextOpen); ok {
		p.SelectedText = v
	}
	if v, ok := delimitedSection(contextSection, imageDataOpen); ok {
		p.ImageData = v
		p.UseVision = true
	}
	if v, ok := keyedLine(contextSection, "Mode:"); ok {
		p.Mode = model.ParseMode(v)
		p.ModeSet = true
	}
	if v, ok := delimitedSection(contextSection, modeOpen); ok {
		p.Mode = model.ParseMode(v)
		p.ModeSet = true
	}
	if strings.Contains(contextSection, "Web Search:") || strings.Contains(contextSection, webSearchOpen) {
		p.UseWebSearch = true
	}

	return p
}

// keyedSection extracts a "Key:\n<value>" block terminated by a blank line.
func keyedSection(s, key string) (string, bool) {
	_, rest, ok := strings.Cut(s, key)
	if !ok {
		return "", false
	}
	value, _, _ := strings.Cut(rest, "\n\n")
	return strings.TrimSpace(value), true
}

// keyedLine extracts the remainder of the line following "Key:".
func keyedLine(s, key string) (string, bool) {
	_, rest, ok := strings.Cut(s, key)
	if !ok {
		return "", false
	}
	value, _, _ := strings.Cut(rest, "\n")
	return strings.TrimSpace(value), true
}

// delimitedSection extracts the body between an "=====KEY=====" opener and
// the closing delimiter, stripping the opener's <annotation> if present. A
// missing closing delimiter skips the section rather than swallowing the rest
// of the envelope.
func delimitedSection(s, open string) (string, bool) {
	_, rest, ok := strings.Cut(s, open)
	if !ok {
		return "", false
	}
	body, _, ok := strings.Cut(rest, sectionClose)
	if !ok {
		logx.Warn().Str("section", open).Msg("unterminated envelope section skipped")
		return "", false
	}
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "<") {
		if _, after, ok := strings.Cut(body, ">"); ok {
			body = strings.TrimSpace(after)
		}
	}
	return body, true
}
