package offline

import (
	"fmt"
	"regexp"

	"github.com/cuemby/cocoasync/pkg/types"
)

// uuidV4Pattern matches a version-4 UUID per P11 ("every client-generated
// id validates as UUID v4").
var uuidV4Pattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// phonePattern accepts an optional leading + and 8-15 digits, loose
// enough to cover the regional formats a cooperative's field agents use
// without requiring a full libphonenumber dependency for this
// boundary-level shape check.
var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// cniPattern accepts the alphanumeric national-id shapes in use across
// the cooperative's member countries.
var cniPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,20}$`)

// fieldRule is one required/shaped field check for a table.
type fieldRule struct {
	field     string
	required  bool
	pattern   *regexp.Regexp
	kind      string // human label used in error/warning messages
	positive  bool   // numeric field must be > 0
}

var tableRules = map[string][]fieldRule{
	types.TablePlanters: {
		{field: "id", required: true, pattern: uuidV4Pattern, kind: "uuid"},
		{field: "cooperative_id", required: true},
		{field: "name", required: true},
		{field: "phone", pattern: phonePattern, kind: "phone"},
		{field: "cni", pattern: cniPattern, kind: "cni"},
	},
	types.TableChefPlanteurs: {
		{field: "id", required: true, pattern: uuidV4Pattern, kind: "uuid"},
		{field: "cooperative_id", required: true},
		{field: "name", required: true},
		{field: "phone", pattern: phonePattern, kind: "phone"},
	},
	types.TableWarehouses: {
		{field: "id", required: true, pattern: uuidV4Pattern, kind: "uuid"},
		{field: "cooperative_id", required: true},
		{field: "name", required: true},
	},
	types.TableDeliveries: {
		{field: "id", required: true, pattern: uuidV4Pattern, kind: "uuid"},
		{field: "cooperative_id", required: true},
		{field: "planteur_id", required: true, pattern: uuidV4Pattern, kind: "uuid"},
		{field: "warehouse_id", required: true, pattern: uuidV4Pattern, kind: "uuid"},
		{field: "weight_kg", required: true, positive: true},
		{field: "price_per_kg", positive: true},
		{field: "total_amount", positive: true},
		{field: "payment_amount_paid", positive: true},
	},
}

// ValidationResult is validate_for_enqueue's output (§4.8): errors block
// enqueue entirely, warnings are attached to the record's
// validation_warnings instead.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether enqueue may proceed.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// validateForEnqueue runs table's minimal shape checks (§4.8: "required
// fields, UUID/phone/CNI regex shape, positive-number ranges").
// Optional fields that are present but malformed are warnings, not
// errors, since they do not prevent the record from being useful
// offline; missing required fields and non-positive required numbers
// are hard errors.
func validateForEnqueue(table string, data map[string]any) ValidationResult {
	var result ValidationResult
	rules, ok := tableRules[table]
	if !ok {
		return result
	}

	for _, rule := range rules {
		raw, present := data[rule.field]
		if !present || raw == nil || raw == "" {
			if rule.required {
				result.Errors = append(result.Errors, fmt.Sprintf("%s is required", rule.field))
			}
			continue
		}

		if rule.pattern != nil {
			s, ok := raw.(string)
			if !ok || !rule.pattern.MatchString(s) {
				msg := fmt.Sprintf("%s does not match the expected %s shape", rule.field, rule.kind)
				if rule.required {
					result.Errors = append(result.Errors, msg)
				} else {
					result.Warnings = append(result.Warnings, msg)
				}
			}
		}

		if rule.positive {
			n, ok := numericValue(raw)
			if !ok || n <= 0 {
				msg := fmt.Sprintf("%s must be a positive number", rule.field)
				if rule.required {
					result.Errors = append(result.Errors, msg)
				} else {
					result.Warnings = append(result.Warnings, msg)
				}
			}
		}
	}
	return result
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
