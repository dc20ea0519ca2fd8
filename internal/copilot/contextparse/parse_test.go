package contextparse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hoverquill/server/internal/copilot/model"
)

func TestParsePlainQuery(t *testing.T) {
	p := Parse("What's 2+2?")

	assert.Equal(t, "What's 2+2?", p.Query)
	assert.Empty(t, p.SelectedText)
	assert.Empty(t, p.ImageData)
	assert.False(t, p.UseWebSearch)
	assert.False(t, p.UseVision)
	assert.False(t, p.ModeSet)
}

func TestParseEnvelope(t *testing.T) {
	raw := "Context:\n" +
		"=====SELECTED_TEXT=====<text selected by the user>\n" +
		"func main() {}\n" +
		"=======================\n\n" +
		"=====MODE=====<user selected mode>\n" +
		"compose\n" +
		"=======================\n\n" +
		"Query:\nexplain this"

	p := Parse(raw)

	assert.Equal(t, "explain this", p.Query)
	assert.Equal(t, "func main() {}", p.SelectedText)
	assert.True(t, p.ModeSet)
	assert.Equal(t, model.ModeCompose, p.Mode)
}

func TestParseKeyedSections(t *testing.T) {
	raw := "Context:\nSelected Text:\nsome snippet\n\nMode: chat\n\nQuery:\nsummarize"

	p := Parse(raw)

	assert.Equal(t, "summarize", p.Query)
	assert.Equal(t, "some snippet", p.SelectedText)
	assert.True(t, p.ModeSet)
	assert.Equal(t, model.ModeChat, p.Mode)
}

func TestParseImageSection(t *testing.T) {
	raw := "Context:\n" +
		"=====IMAGE_DATA=====\n" +
		"aGVsbG8=\n" +
		"=======================\n\n" +
		"Query:\nwhat is in this image?"

	p := Parse(raw)

	assert.Equal(t, "aGVsbG8=", p.ImageData)
	assert.True(t, p.UseVision)
}

func TestParseWebSearchFlags(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"hash web prefix", "#web latest Rust release", true},
		{"hash web inline", "look up #web golang generics", true},
		{"envelope flag", "Context:\nWeb Search: enabled\n\nQuery:\nlatest news", true},
		{"delimited flag", "Context:\n=====WEB_SEARCH=====\ntrue\n=======================\n\nQuery:\nnews", true},
		{"no flag", "latest Rust release", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw).UseWebSearch)
		})
	}
}

func TestParseMalformedEnvelope(t *testing.T) {
	t.Run("missing query marker", func(t *testing.T) {
		raw := "Context:\n=====MODE=====\ncompose\n======================="
		p := Parse(raw)
		assert.Equal(t, raw, p.Query)
		assert.False(t, p.ModeSet)
	})

	t.Run("unterminated section skipped", func(t *testing.T) {
		raw := "Context:\n=====SELECTED_TEXT=====<text selected by the user>\ndangling\n\nQuery:\nhello"
		p := Parse(raw)
		assert.Equal(t, "hello", p.Query)
		assert.Empty(t, p.SelectedText)
	})
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Control
	}{
		{
			name: "plain query",
			raw:  "hello",
			want: Control{Kind: ControlQuery, SessionID: DefaultSessionID, Query: "hello"},
		},
		{
			name: "session scoped",
			raw:  "!session:abc|what time is it",
			want: Control{Kind: ControlQuery, SessionID: "abc", Query: "what time is it"},
		},
		{
			name: "clear session",
			raw:  "!clear_session:abc",
			want: Control{Kind: ControlClearSession, SessionID: "abc"},
		},
		{
			name: "paste",
			raw:  "!paste:hello world",
			want: Control{Kind: ControlPaste, Text: "hello world"},
		},
		{
			name: "type",
			raw:  "!type:hello",
			want: Control{Kind: ControlType, Text: "hello"},
		},
		{
			name: "malformed session prefix",
			raw:  "!session:no-pipe-here",
			want: Control{Kind: ControlQuery, SessionID: DefaultSessionID, Query: "!session:no-pipe-here"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseControl(tt.raw))
		})
	}
}
