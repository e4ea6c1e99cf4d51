package sanitize

import (
	"fmt"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
)

// Metadata shape limits, §3 "Metadata".
const (
	MaxTopLevelKeys  = 100
	MaxNestedKeys    = 50
	MaxListElements  = 100
	MaxDepth         = 3
	MaxKeyLength     = 100
)

// Metadata validates that m is JSON-serializable recursively and respects
// the depth/width/key-length/value-type caps §3 places on Subscription,
// UsageRecord, and PaymentTransaction metadata maps.
func Metadata(m map[string]any) error {
	if len(m) > MaxTopLevelKeys {
		return payerrors.Validation("metadata", nil, fmt.Sprintf("at most %d top-level keys", MaxTopLevelKeys))
	}
	return validateValue("metadata", m, 1)
}

func validateValue(path string, v any, depth int) error {
	if depth > MaxDepth {
		return payerrors.Validation(path, nil, fmt.Sprintf("exceeds max depth %d", MaxDepth))
	}
	switch val := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return nil
	case map[string]any:
		if depth > 1 && len(val) > MaxNestedKeys {
			return payerrors.Validation(path, nil, fmt.Sprintf("at most %d keys per nested object", MaxNestedKeys))
		}
		for k, child := range val {
			if len(k) > MaxKeyLength {
				return payerrors.Validation(path+"."+k, nil, fmt.Sprintf("key length must be at most %d", MaxKeyLength))
			}
			if err := validateValue(path+"."+k, child, depth+1); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if len(val) > MaxListElements {
			return payerrors.Validation(path, nil, fmt.Sprintf("at most %d list elements", MaxListElements))
		}
		for i, child := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), child, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return payerrors.Validation(path, fmt.Sprintf("%T", v), "unsupported metadata value type")
	}
}
