package executor

// Limits bounds a single program execution. All fields are clamped to be
// >0; defaults match the three-round orchestrator's defaults except
// MaxSteps, which assembly-only mode halves.
type Limits struct {
	MaxSteps        int
	MaxSubcalls     int
	MaxDepth        int
	MaxProgramChars int
	MaxEventErrors  int
	MaxGlimpseChars int
	MaxGrepHits     int
}

// DefaultLimits returns the three-round orchestrator's defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:        32,
		MaxSubcalls:     24,
		MaxDepth:        4,
		MaxProgramChars: 20000,
		MaxEventErrors:  3,
		MaxGlimpseChars: 2000,
		MaxGrepHits:     5,
	}
}

// AssemblyLimits returns the assembly-only mode defaults (half MaxSteps).
func AssemblyLimits() Limits {
	l := DefaultLimits()
	l.MaxSteps = 16
	return l
}

func (l Limits) clamp() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = 32
	}
	if l.MaxSubcalls <= 0 {
		l.MaxSubcalls = 24
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = 4
	}
	if l.MaxProgramChars <= 0 {
		l.MaxProgramChars = 20000
	}
	if l.MaxEventErrors <= 0 {
		l.MaxEventErrors = 3
	}
	if l.MaxGlimpseChars <= 0 {
		l.MaxGlimpseChars = 2000
	}
	if l.MaxGrepHits <= 0 {
		l.MaxGrepHits = 5
	}
	return l
}

// FromOptions overlays any limit keys present in an options/limits map
// (as decoded from JSON, so ints arrive as float64) onto a base Limits.
func FromOptions(base Limits, overrides map[string]any) Limits {
	get := func(key string, dst *int) {
		if v, ok := overrides[key]; ok {
			if f, ok := toFloat(v); ok {
				*dst = int(f)
			}
		}
	}
	get("max_steps", &base.MaxSteps)
	get("max_subcalls", &base.MaxSubcalls)
	get("max_depth", &base.MaxDepth)
	get("max_program_chars", &base.MaxProgramChars)
	get("max_event_errors", &base.MaxEventErrors)
	get("max_glimpse_chars", &base.MaxGlimpseChars)
	get("max_grep_hits", &base.MaxGrepHits)
	return base.clamp()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
