package rootlm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
var braceObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseTolerantJSON implements the three-stage fallthrough contract shared by
// every non-mock backend: try a direct parse, then strip a ```json fenced
// block and parse that, then greedily extract the first {...} substring and
// parse that. Returns ok=false when none of the three stages yield valid
// JSON, in which case out is left at its zero value.
func parseTolerantJSON(raw string) (out map[string]any, ok bool) {
	trimmed := strings.TrimSpace(raw)

	if m, err := decodeObject(trimmed); err == nil {
		return m, true
	}

	if match := fencedJSONPattern.FindStringSubmatch(trimmed); match != nil {
		if m, err := decodeObject(strings.TrimSpace(match[1])); err == nil {
			return m, true
		}
	}

	if match := braceObjectPattern.FindString(trimmed); match != "" {
		if m, err := decodeObject(match); err == nil {
			return m, true
		}
	}

	return nil, false
}

func decodeObject(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
