package invoke

import (
	"fmt"
	"strings"
)

// ClassifyError maps a provider failure to a user-facing message. Providers
// surface structured error names inside their message strings, so matching is
// by substring.
func ClassifyError(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "NotFoundError") && strings.Contains(msg, "does not exist"):
		return "⚠️ Error: The selected model is not available. Please check the model ID in settings."
	case strings.Contains(msg, "AuthenticationError") || strings.Contains(lower, "api_key") || strings.Contains(lower, "api key"):
		return "⚠️ Error: Invalid API key. Please check your API key in settings."
	case strings.Contains(msg, "RateLimitError") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return "⚠️ Error: Rate limit exceeded. Please try again in a moment."
	case strings.Contains(msg, "InvalidRequestError"):
		return "⚠️ Error: Invalid request. Please try again with different input."
	case strings.Contains(msg, "ServiceUnavailableError"):
		return "⚠️ Error: Service is currently unavailable. Please try again later."
	case strings.Contains(msg, "ConnectionError") || strings.Contains(msg, "Connection refused") || strings.Contains(lower, "no such host"):
		return "⚠️ Error: Could not connect to the API server. Please check your internet connection and the base URL in settings."
	default:
		return fmt.Sprintf("⚠️ Error generating response: %s", msg)
	}
}
