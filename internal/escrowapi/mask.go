package escrowapi

import (
	"encoding/json"
	"strings"
)

// Fields whose values are reduced to their last 4 digits in audit entries.
var sensitiveFields = map[string]bool{
	"account_number": true,
	"otp":            true,
}

// MaskAccountNumber keeps only the last 4 characters visible.
func MaskAccountNumber(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// MaskSensitiveJSON rewrites sensitive string fields anywhere in a JSON
// document. Non-JSON input is returned untouched; it carries no payout
// destinations by contract.
func MaskSensitiveJSON(data []byte) []byte {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return data
	}
	masked, err := json.Marshal(maskValue(doc))
	if err != nil {
		return data
	}
	return masked
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if s, ok := inner.(string); ok && sensitiveFields[k] {
				t[k] = MaskAccountNumber(s)
				continue
			}
			t[k] = maskValue(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = maskValue(t[i])
		}
		return t
	default:
		return v
	}
}
