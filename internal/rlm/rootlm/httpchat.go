package rootlm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/rs/zerolog/log"

	"rlmcore/internal/rlm/domain"
)

// HTTPChatConfig configures the OpenAI-compatible chat-completions backend.
type HTTPChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       RetryPolicy
	Debug       bool
}

// HTTPChat talks to an OpenAI-compatible chat-completions endpoint (vLLM and
// similar self-hosted servers, or any OpenAI-hosted root model) through the
// openai-go client, applying the shared retry policy: timeouts and HTTP
// status codes below 500 never retry; 5xx and network errors retry up to
// Retry.MaxRetries with a fixed sleep between attempts.
type HTTPChat struct {
	sdk   openai.Client
	cfg   HTTPChatConfig
	retry RetryPolicy
}

// NewHTTPChat constructs an HTTPChat backend. baseURL is normalized by
// stripping a trailing "/" and a trailing "/v1" so callers may pass either
// form; the client re-appends "/v1" itself.
func NewHTTPChat(cfg HTTPChatConfig, httpClient *http.Client) *HTTPChat {
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retries are driven by the shared retry loop below
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL+"/v1"))
	}
	return &HTTPChat{
		sdk:   openai.NewClient(opts...),
		cfg:   cfg,
		retry: cfg.Retry.orDefaults(),
	}
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	return base
}

// GenerateProgram requests a plan-round completion and parses its JSON body
// into a Program per the tolerant-parsing contract.
func (h *HTTPChat) GenerateProgram(ctx context.Context, index domain.CandidateIndex, policy, limits map[string]any, options map[string]any) (ProgramResult, error) {
	prompt := programPrompt(index, policy, limits)
	text, meta, err := h.complete(ctx, prompt, "plan")
	if err != nil {
		return ProgramResult{}, err
	}

	parsed, ok := parseTolerantJSON(text)
	if !ok {
		meta["parsed"] = false
		return ProgramResult{Program: domain.Program{Steps: []domain.Step{}}, Meta: meta, Raw: text, Parsed: false}, nil
	}

	program, ok := decodeProgram(parsed)
	if !ok {
		meta["parsed"] = false
		meta["schema_version_mismatch"] = true
		return ProgramResult{Program: domain.Program{Steps: []domain.Step{}}, Meta: meta, Raw: text, Parsed: false}, nil
	}
	meta["parsed"] = true
	return ProgramResult{Program: program, Meta: meta, Raw: text, Parsed: true}, nil
}

// GenerateFinal requests a decision-round completion and parses its JSON
// body into a final answer + citations per the tolerant-parsing contract.
func (h *HTTPChat) GenerateFinal(ctx context.Context, index domain.CandidateIndex, evidence []map[string]any, subcalls []map[string]any, options map[string]any) (FinalResult, error) {
	prompt := finalPrompt(index, evidence, subcalls)
	text, meta, err := h.complete(ctx, prompt, "decision")
	if err != nil {
		return FinalResult{}, err
	}

	parsed, ok := parseTolerantJSON(text)
	if !ok {
		meta["parsed"] = false
		return FinalResult{
			Final:  map[string]any{"answer": text, "citations": []any{}},
			Meta:   meta,
			Raw:    text,
			Parsed: false,
		}, nil
	}

	final, ok := decodeFinal(parsed)
	if !ok {
		meta["parsed"] = false
		meta["schema_version_mismatch"] = true
		return FinalResult{
			Final:  map[string]any{"answer": text, "citations": []any{}},
			Meta:   meta,
			Raw:    text,
			Parsed: false,
		}, nil
	}
	meta["parsed"] = true
	return FinalResult{Final: final, Meta: meta, Raw: text, Parsed: true}, nil
}

// complete runs the shared retry loop around a single chat-completions call
// and returns the assistant message content.
func (h *HTTPChat) complete(ctx context.Context, prompt string, stage string) (string, map[string]any, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(h.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if h.cfg.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(h.cfg.MaxTokens))
	}
	if h.cfg.Temperature != 0 {
		params.Temperature = param.NewOpt(h.cfg.Temperature)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= h.retry.MaxRetries; attempt++ {
		attempts++
		start := time.Now()
		text, retryable, err := h.attempt(ctx, params)
		dur := time.Since(start)

		if h.cfg.Debug {
			log.Debug().Str("stage", stage).Int("attempt", attempts).Int("message_len", len(prompt)).Dur("duration", dur).Err(err).Msg("rootlm_httpchat_attempt")
		}

		if err == nil {
			return text, map[string]any{"backend": "vllm", "attempts": attempts}, nil
		}
		lastErr = err
		if !retryable {
			return "", nil, fmt.Errorf("vllm request failed (non-retryable): %w", err)
		}
		if attempt < h.retry.MaxRetries {
			sleepCtx(ctx, time.Duration(h.retry.BackoffSeconds*float64(time.Second)))
		}
	}
	return "", nil, fmt.Errorf("vllm request failed after %d attempts: %w", attempts, lastErr)
}

// attempt performs a single chat-completions call and classifies the error
// as retryable or not: timeouts and 4xx never retry, 5xx and network errors
// do.
func (h *HTTPChat) attempt(ctx context.Context, params openai.ChatCompletionNewParams) (text string, retryable bool, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(h.retry.TimeoutSeconds*float64(time.Second)))
	defer cancel()

	comp, err := h.sdk.Chat.Completions.New(timeoutCtx, params)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", false, fmt.Errorf("timeout: %w", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, fmt.Errorf("timeout: %w", err)
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode >= 500 {
				return "", true, err
			}
			return "", false, err
		}
		// Unrecognized error shape (connection refused, DNS failure, ...):
		// treat as a network error, which is retryable.
		return "", true, err
	}
	if len(comp.Choices) == 0 {
		return "", false, errors.New("no choices returned")
	}
	return comp.Choices[0].Message.Content, false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
