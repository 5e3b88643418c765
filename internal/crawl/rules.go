package crawl

import "fmt"

// RulesValidationResult reports whether an advanced-filter rule set is
// structurally sound.
type RulesValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateRules performs a structural check of the advanced-filter rule set:
// maxDataAge, when present, must be numeric. The rules are never interpreted
// further by the crawl. Stateless, no I/O.
func ValidateRules(rules map[string]any) RulesValidationResult {
	var errs []string

	if v, ok := rules["maxDataAge"]; ok && !isNumeric(v) {
		errs = append(errs, fmt.Sprintf("maxDataAge must be a number, got %T (%v)", v, v))
	}

	return RulesValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

// isNumeric accepts the numeric shapes JSON decoding and config loading
// produce.
func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
