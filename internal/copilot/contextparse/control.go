package contextparse

import "strings"

// ControlKind classifies a raw input line before the envelope parser sees it.
type ControlKind int

const (
	// ControlQuery is a normal query, possibly session-scoped.
	ControlQuery ControlKind = iota
	// ControlClearSession wipes a session's history.
	ControlClearSession
	// ControlPaste asks the caller to insert text via the clipboard.
	ControlPaste
	// ControlType asks the caller to insert text keystroke by keystroke.
	ControlType
)

// DefaultSessionID scopes queries that carry no explicit session prefix.
const DefaultSessionID = "default"

// Control is the result of splitting the control-prefix convention off a raw
// input line: `!session:<id>|<query>`, `!clear_session:<id>`, `!paste:<text>`
// and `!type:<text>` multiplex session control and insertion signaling onto
// the same plain-string channel.
type Control struct {
	Kind      ControlKind
	SessionID string
	Text      string // payload for paste/type
	Query     string
}

// ParseControl splits control prefixes off raw. Anything unrecognized passes
// through as a default-session query.
func ParseControl(raw string) Control {
	switch {
	case strings.HasPrefix(raw, "!clear_session:"):
		return Control{
			Kind:      ControlClearSession,
			SessionID: strings.TrimPrefix(raw, "!clear_session:"),
		}
	case strings.HasPrefix(raw, "!paste:"):
		return Control{Kind: ControlPaste, Text: strings.TrimPrefix(raw, "!paste:")}
	case strings.HasPrefix(raw, "!type:"):
		return Control{Kind: ControlType, Text: strings.TrimPrefix(raw, "!type:")}
	case strings.HasPrefix(raw, "!session:"):
		rest := strings.TrimPrefix(raw, "!session:")
		if id, query, ok := strings.Cut(rest, "|"); ok && id != "" {
			return Control{Kind: ControlQuery, SessionID: id, Query: query}
		}
		// Malformed session prefix, deliver verbatim on the default session.
		return Control{Kind: ControlQuery, SessionID: DefaultSessionID, Query: raw}
	default:
		return Control{Kind: ControlQuery, SessionID: DefaultSessionID, Query: raw}
	}
}
