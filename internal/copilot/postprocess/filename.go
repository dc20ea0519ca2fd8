package postprocess

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/prompts"
	logx "github.com/hoverquill/server/pkg/logger"
)

var extensionMap = map[string]string{
	"python": ".py", "py": ".py",
	"javascript": ".js", "js": ".js",
	"typescript": ".ts", "ts": ".ts",
	"java": ".java",
	"c":    ".c",
	"cpp":  ".cpp", "c++": ".cpp",
	"csharp": ".cs", "c#": ".cs",
	"go":     ".go",
	"rust":   ".rs",
	"ruby":   ".rb",
	"php":    ".php",
	"swift":  ".swift",
	"kotlin": ".kt",
	"html":   ".html",
	"css":    ".css",
	"sql":    ".sql",
	"shell":  ".sh", "bash": ".sh", "sh": ".sh",
	"json": ".json",
	"xml":  ".xml",
	"yaml": ".yaml", "yml": ".yaml",
	"markdown": ".md", "md": ".md",
	"text": ".txt", "plaintext": ".txt",
}

const filenameContentLimit = 500

// FilenameSuggester asks a model for a short filename matching composed
// content, using the postprocessor's detected language to pick an extension.
type FilenameSuggester struct {
	chatModel    einomodel.BaseChatModel
	systemPrompt string
}

func NewFilenameSuggester(chatModel einomodel.BaseChatModel, systemPrompt string) *FilenameSuggester {
	return &FilenameSuggester{chatModel: chatModel, systemPrompt: systemPrompt}
}

// Suggest returns a filename with extension for the content. Failures fall
// back to a timestamped default rather than an error.
func (f *FilenameSuggester) Suggest(ctx context.Context, content, recentQuery, detectedLanguage string) string {
	extension := ".md"
	extensionHint := ""
	if lang := strings.ToLower(detectedLanguage); lang != "" {
		if ext, ok := extensionMap[lang]; ok {
			extension = ext
			extensionHint = fmt.Sprintf("(use %s extension for this %s code)", ext, detectedLanguage)
		}
	}

	if len(content) > filenameContentLimit {
		content = content[:filenameContentLimit]
	}

	name, err := f.suggest(ctx, content, recentQuery, extension, extensionHint)
	if err != nil {
		logx.Error().Err(err).Msg("filename suggestion failed, using fallback")
		return fmt.Sprintf("quill_response_%s%s", time.Now().Format("20060102_150405"), extension)
	}
	return name
}

func (f *FilenameSuggester) suggest(ctx context.Context, content, recentQuery, extension, extensionHint string) (string, error) {
	if f.chatModel == nil {
		return "", fmt.Errorf("no model configured")
	}
	query, err := prompts.RenderFilenameSuggestion(ctx, extension, extensionHint, recentQuery, content)
	if err != nil {
		return "", err
	}
	out, err := f.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(f.systemPrompt),
		schema.UserMessage(query),
	})
	if err != nil {
		return "", err
	}

	name := strings.Trim(strings.TrimSpace(out.Content), `"'`)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty suggestion")
	}
	if !strings.HasSuffix(name, extension) {
		if i := strings.Index(name, "."); i >= 0 {
			name = name[:i]
		}
		name += extension
	}
	return name, nil
}
