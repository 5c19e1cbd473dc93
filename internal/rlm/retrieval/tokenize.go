package retrieval

import "regexp"

var (
	wordPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)
	cjkPattern  = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)
)

// Go's regexp (RE2) has no lookaround, so the camelCase boundary
// (lowercase|digit)(Uppercase) used by the reference tokenizer is located
// by scanning rune pairs in splitCamel instead of a lookaround regex.

// splitCamel splits part at camelCase boundaries, i.e. between a lowercase
// letter or digit and a following uppercase letter. Go's regexp (RE2) has no
// lookaround, so boundaries are found by scanning rune pairs directly.
func splitCamel(part string) []string {
	runes := []rune(part)
	if len(runes) == 0 {
		return nil
	}
	var segs []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		if isLowerOrDigit(prev) && isUpper(cur) {
			segs = append(segs, string(runes[start:i]))
			start = i
		}
	}
	segs = append(segs, string(runes[start:]))
	return segs
}

func isUpper(r rune) bool      { return r >= 'A' && r <= 'Z' }
func isLowerOrDigit(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// iterWordTokens yields ASCII word tokens split on '_' and camelCase boundaries.
func iterWordTokens(query string) []string {
	var out []string
	for _, tok := range wordPattern.FindAllString(query, -1) {
		for _, part := range splitUnderscore(tok) {
			if part == "" {
				continue
			}
			for _, seg := range splitCamel(part) {
				if seg != "" {
					out = append(out, seg)
				}
			}
		}
	}
	return out
}

func splitUnderscore(s string) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if r == '_' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// iterCJKTokens yields 2-char sliding windows of any CJK run of length >= 3,
// or the whole run when its length is <= 2.
func iterCJKTokens(query string) []string {
	var out []string
	for _, match := range cjkPattern.FindAllString(query, -1) {
		runes := []rune(match)
		if len(runes) <= 2 {
			out = append(out, match)
			continue
		}
		for i := 0; i < len(runes)-1; i++ {
			out = append(out, string(runes[i:i+2]))
		}
	}
	return out
}

const maxTokens = 12

// BuildTokens implements the deterministic tokenization policy: ASCII word
// runs split on '_' and camelCase boundaries first, then CJK 2-char sliding
// windows filling any remaining budget, capped at maxTokens. Falls back to
// the trimmed query (or nothing) when no tokens were produced.
func BuildTokens(query string) []string {
	tokens := make([]string, 0, maxTokens)
	for _, tok := range iterWordTokens(query) {
		tokens = append(tokens, tok)
		if len(tokens) >= maxTokens {
			return tokens
		}
	}
	if len(tokens) < maxTokens {
		for _, tok := range iterCJKTokens(query) {
			tokens = append(tokens, tok)
			if len(tokens) >= maxTokens {
				break
			}
		}
	}
	if len(tokens) == 0 {
		if trimmed := trimSpace(query); trimmed != "" {
			tokens = []string{trimmed}
		}
	}
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return tokens
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isASCIISpace(s[start]) {
		start++
	}
	for end > start && isASCIISpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
