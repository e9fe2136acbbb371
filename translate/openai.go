package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrRateLimited reports that the translation service rejected the call
// for rate limiting. The router backs off before the next call.
var ErrRateLimited = errors.New("translation service rate limited")

// NetworkError wraps a transport-level failure reaching the translation
// service.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("translation network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

var languageNames = map[string]string{
	"en": "English",
	"hu": "Hungarian",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// OpenAIService translates via an OpenAI-compatible chat completion
// endpoint.
type OpenAIService struct {
	client openai.Client
	model  string
}

// NewOpenAIService creates a service. baseURL is optional and allows
// pointing at a compatible self-hosted endpoint; model defaults to
// gpt-4o-mini.
func NewOpenAIService(apiKey, baseURL, model string) *OpenAIService {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIService{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name identifies the service for cache keys.
func (s *OpenAIService) Name() string { return "openai/" + s.model }

// Translate sends one chat completion. Rate-limit responses are
// reported as ErrRateLimited, transport failures as *NetworkError.
func (s *OpenAIService) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	var sys string
	if src == "" {
		sys = fmt.Sprintf("You are a translation engine. Translate the user's text into %s. Reply with the translation only, no explanations.", languageName(tgt))
	} else {
		sys = fmt.Sprintf("You are a translation engine. Translate the user's text from %s into %s. Reply with the translation only, no explanations.", languageName(src), languageName(tgt))
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(sys),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests {
				return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return "", fmt.Errorf("translation request: %w", err)
		}
		return "", &NetworkError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty translation response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
