package postprocess

import (
	"regexp"
	"strings"

	"github.com/hoverquill/server/internal/copilot/model"
)

var fencePattern = regexp.MustCompile(`^\s*` + "```" + `(\w*)\s*\n([\s\S]*?)\n\s*` + "```" + `\s*$`)

// Process finalizes a model response for the given mode. Chat responses pass
// through unchanged; compose responses have a single wrapping code fence
// stripped, returning the captured language tag (empty when unfenced or
// untagged).
func Process(response string, mode model.Mode) (string, string) {
	if mode != model.ModeCompose {
		return response, ""
	}
	return ExtractCodeBlock(response)
}

// ExtractCodeBlock unwraps a response that consists entirely of one fenced
// code block. Tried in order: a strict whole-string match, the regex
// fallback, then a line scan for malformed fencing. Anything else passes
// through unchanged.
func ExtractCodeBlock(response string) (string, string) {
	stripped := strings.TrimSpace(response)

	if strings.HasPrefix(stripped, "```") && strings.HasSuffix(stripped, "```") && len(stripped) > 6 {
		if nl := strings.Index(stripped, "\n"); nl > 3 {
			language := strings.ToLower(strings.TrimSpace(stripped[3:nl]))
			content := strings.TrimSpace(stripped[nl+1 : len(stripped)-3])
			return content, language
		} else if nl == 3 {
			content := strings.TrimSpace(stripped[4 : len(stripped)-3])
			return content, ""
		}
	}

	if m := fencePattern.FindStringSubmatch(stripped); m != nil {
		return m[2], strings.ToLower(strings.TrimSpace(m[1]))
	}

	if content, language, ok := scanFenceLines(stripped); ok {
		return content, language
	}

	return response, ""
}

// scanFenceLines handles fences with stray leading/trailing noise on the
// delimiter lines: the first and last lines must still start with backticks.
func scanFenceLines(s string) (string, string, bool) {
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return "", "", false
	}
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(first, "```") || !strings.HasPrefix(last, "```") {
		return "", "", false
	}
	language := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(first, "```")))
	content := strings.Join(lines[1:len(lines)-1], "\n")
	return strings.TrimSpace(content), language, true
}
