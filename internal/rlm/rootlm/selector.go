package rootlm

import (
	"net/http"
	"strings"
)

// DecisionBackendConfig bundles everything needed to resolve which backend
// the decision round (R3) should use: the requested name plus enough of
// each real backend's config to judge validity.
type DecisionBackendConfig struct {
	Requested string // "mock" | "vllm" | "anthropic", defaulting to "mock"

	VllmBaseURL     string
	VllmAPIKey      string
	VllmModel       string
	VllmMaxTokens   int
	VllmTemperature float64
	VllmRetry       RetryPolicy
	VllmDebug       bool

	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicRetry  RetryPolicy
	AnthropicDebug  bool
}

// ResolveDecisionBackend picks the decision-round backend per the
// three-round orchestrator's backend-selection rule: vllm requires
// base_url+model, anthropic requires api_key+model; anything else (including
// an invalid or unrecognized request) falls back to Mock with a
// fallback_reason explaining why.
func ResolveDecisionBackend(cfg DecisionBackendConfig, httpClient *http.Client) (backend RootLM, name string, fallbackReason string) {
	requested := strings.ToLower(strings.TrimSpace(cfg.Requested))
	if requested == "" {
		requested = "mock"
	}

	switch requested {
	case "vllm":
		if strings.TrimSpace(cfg.VllmBaseURL) == "" || strings.TrimSpace(cfg.VllmModel) == "" {
			return NewMock(), "mock", "vllm_config_invalid:missing base_url or model"
		}
		return NewHTTPChat(HTTPChatConfig{
			BaseURL:     cfg.VllmBaseURL,
			APIKey:      cfg.VllmAPIKey,
			Model:       cfg.VllmModel,
			MaxTokens:   cfg.VllmMaxTokens,
			Temperature: cfg.VllmTemperature,
			Retry:       cfg.VllmRetry,
			Debug:       cfg.VllmDebug,
		}, httpClient), "vllm", ""
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" || strings.TrimSpace(cfg.AnthropicModel) == "" {
			return NewMock(), "mock", "anthropic_config_invalid:missing api_key or model"
		}
		return NewAnthropic(AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
			Retry:  cfg.AnthropicRetry,
			Debug:  cfg.AnthropicDebug,
		}, httpClient), "anthropic", ""
	case "mock":
		return NewMock(), "mock", ""
	default:
		return NewMock(), "mock", "unrecognized_backend:" + requested
	}
}
