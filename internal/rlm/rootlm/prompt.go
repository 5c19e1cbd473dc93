package rootlm

import (
	"encoding/json"
	"fmt"

	"rlmcore/internal/rlm/domain"
)

// programPrompt builds the plan-round prompt. Both real backends (HTTP-Chat
// and Anthropic) share this text so their outputs are directly comparable.
func programPrompt(index domain.CandidateIndex, policy, limits map[string]any) string {
	candidates, _ := json.Marshal(index.Candidates)
	policyJSON, _ := json.Marshal(policy)
	limitsJSON, _ := json.Marshal(limits)
	return "You are planning a retrieval program over the following candidates.\n" +
		"Query: " + index.Query + "\n" +
		"Candidates: " + string(candidates) + "\n" +
		"Policy: " + string(policyJSON) + "\n" +
		"Limits: " + string(limitsJSON) + "\n" +
		"Respond with JSON only: {\"program\": {\"steps\": [...], \"candidate_ids\": [...], \"policy\": {...}, \"limits\": {...}}}"
}

// finalPrompt builds the decision-round prompt.
func finalPrompt(index domain.CandidateIndex, evidence []map[string]any, subcalls []map[string]any) string {
	evidenceJSON, _ := json.Marshal(evidence)
	subcallsJSON, _ := json.Marshal(subcalls)
	return "Answer the query using only the evidence below.\n" +
		"Query: " + index.Query + "\n" +
		"Evidence: " + string(evidenceJSON) + "\n" +
		"Subcalls: " + string(subcallsJSON) + "\n" +
		"Respond with JSON only: {\"final\": {\"answer\": \"...\", \"citations\": [...]}}"
}

// SupportedSchemaVersion is the only root-model response schema_version this
// build accepts. A response that tags itself with any other value is
// rejected rather than decoded against assumptions it may not meet.
const SupportedSchemaVersion = "1"

// schemaVersionOK reports whether a tolerant-parsed payload's schema_version
// is either absent (untagged, assumed compatible) or equal to
// SupportedSchemaVersion. Per §9 this is a reject-on-mismatch check, not a
// migration point.
func schemaVersionOK(parsed map[string]any) bool {
	v, present := parsed["schema_version"]
	if !present {
		return true
	}
	switch sv := v.(type) {
	case string:
		return sv == SupportedSchemaVersion
	case float64:
		return fmt.Sprintf("%v", sv) == SupportedSchemaVersion
	default:
		return false
	}
}

// decodeProgram converts a parsed {"program": {...}} map into a Program.
// Missing or malformed fields degrade gracefully to zero values rather than
// failing — the caller's tolerant-parsing contract already flags structural
// failure via Parsed=false. ok is false when schema_version is present and
// mismatched, which the caller must also treat as a parse failure.
func decodeProgram(parsed map[string]any) (program domain.Program, ok bool) {
	if !schemaVersionOK(parsed) {
		return domain.Program{Steps: []domain.Step{}}, false
	}
	raw, _ := parsed["program"].(map[string]any)
	if raw == nil {
		return domain.Program{Steps: []domain.Step{}}, true
	}
	if b, err := json.Marshal(raw); err == nil {
		_ = json.Unmarshal(b, &program)
	}
	if program.Steps == nil {
		program.Steps = []domain.Step{}
	}
	return program, true
}

// decodeFinal extracts the {"final": {...}} map, falling back to an empty
// answer/citations shell when absent. ok is false when schema_version is
// present and mismatched.
func decodeFinal(parsed map[string]any) (final map[string]any, ok bool) {
	if !schemaVersionOK(parsed) {
		return map[string]any{"answer": "", "citations": []any{}}, false
	}
	if f, has := parsed["final"].(map[string]any); has {
		if _, hasAnswer := f["answer"]; !hasAnswer {
			f["answer"] = ""
		}
		if _, hasCitations := f["citations"]; !hasCitations {
			f["citations"] = []any{}
		}
		return f, true
	}
	return map[string]any{"answer": "", "citations": []any{}}, true
}
