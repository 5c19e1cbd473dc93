package rootlm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"rlmcore/internal/rlm/domain"
)

// AnthropicConfig configures the Anthropic decision-round backend.
type AnthropicConfig struct {
	APIKey string
	Model  string
	Retry  RetryPolicy
	Debug  bool
}

const defaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest
const anthropicMaxTokens int64 = 2048

// Anthropic is the third Decision-round backend: it shares the
// {GenerateProgram, GenerateFinal} interface and the HTTP-Chat retry/timeout
// and tolerant-JSON-parsing contracts, but drives requests through
// anthropic-sdk-go's messages API instead of a raw chat-completions POST.
type Anthropic struct {
	sdk   anthropic.Client
	model string
	retry RetryPolicy
	debug bool
}

// NewAnthropic constructs an Anthropic backend.
func NewAnthropic(cfg AnthropicConfig, httpClient *http.Client) *Anthropic {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(defaultAnthropicModel)
	}
	return &Anthropic{
		sdk:   anthropic.NewClient(opts...),
		model: model,
		retry: cfg.Retry.orDefaults(),
		debug: cfg.Debug,
	}
}

// GenerateProgram requests a plan-round completion and parses its JSON body
// into a Program per the tolerant-parsing contract.
func (a *Anthropic) GenerateProgram(ctx context.Context, index domain.CandidateIndex, policy, limits map[string]any, options map[string]any) (ProgramResult, error) {
	prompt := programPrompt(index, policy, limits)
	text, meta, err := a.complete(ctx, prompt, "plan")
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
func (a *Anthropic) GenerateFinal(ctx context.Context, index domain.CandidateIndex, evidence []map[string]any, subcalls []map[string]any, options map[string]any) (FinalResult, error) {
	prompt := finalPrompt(index, evidence, subcalls)
	text, meta, err := a.complete(ctx, prompt, "decision")
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

// complete runs the shared retry loop against the messages API and returns
// the concatenated text content of the response.
func (a *Anthropic) complete(ctx context.Context, prompt string, stage string) (string, map[string]any, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= a.retry.MaxRetries; attempt++ {
		attempts++
		start := time.Now()
		text, retryable, err := a.attempt(ctx, params)
		dur := time.Since(start)

		if a.debug {
			log.Debug().Str("stage", stage).Int("attempt", attempts).Int("message_len", len(prompt)).Dur("duration", dur).Err(err).Msg("rootlm_anthropic_attempt")
		}

		if err == nil {
			return text, map[string]any{"backend": "anthropic", "attempts": attempts}, nil
		}
		lastErr = err
		if !retryable {
			return "", nil, fmt.Errorf("anthropic request failed (non-retryable): %w", err)
		}
		if attempt < a.retry.MaxRetries {
			sleepCtx(ctx, time.Duration(a.retry.BackoffSeconds*float64(time.Second)))
		}
	}
	return "", nil, fmt.Errorf("anthropic request failed after %d attempts: %w", attempts, lastErr)
}

// attempt performs a single messages.New call and classifies the error as
// retryable or not: timeouts and 4xx never retry, 5xx and network errors do.
func (a *Anthropic) attempt(ctx context.Context, params anthropic.MessageNewParams) (text string, retryable bool, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(a.retry.TimeoutSeconds*float64(time.Second)))
	defer cancel()

	resp, err := a.sdk.Messages.New(timeoutCtx, params)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", false, fmt.Errorf("timeout: %w", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, fmt.Errorf("timeout: %w", err)
		}
		var apiErr *anthropic.Error
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

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), false, nil
}
