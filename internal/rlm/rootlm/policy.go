package rootlm

import (
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadPolicyDefaults reads an optional on-disk default policy/limits
// document (rlm.policy.yaml) at startup. A missing file is not an error:
// the orchestrator simply has no defaults to merge under a request's
// options.policy/options.limits. A malformed file is logged and ignored.
func LoadPolicyDefaults(path string) map[string]any {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("rootlm: policy defaults unreadable, continuing without them")
		}
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("rootlm: policy defaults malformed, continuing without them")
		return nil
	}
	return doc
}

// MergePolicy overlays request-supplied values over the on-disk defaults:
// keys present in override win, everything else falls back to defaults.
func MergePolicy(defaults, override map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(override))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
