// Package normalize canonicalizes response bodies before comparison.
package normalize

import (
	"encoding/json"
	"strings"
)

const (
	// IPv6Loopback is how some network stacks report a local client.
	IPv6Loopback = "::1"
	// IPv4Loopback is the canonical form written in fixtures.
	IPv4Loopback = "127.0.0.1"

	ipAddressField = "ip_address"
	recordsField   = "records"
)

// ToStructuredOrRaw trims text and, when it looks like a JSON object or array,
// returns the decoded value. Anything else, including invalid JSON, is
// returned as the trimmed string.
func ToStructuredOrRaw(text string) any {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return trimmed
	}
	return v
}

// Normalize rewrites volatile fields. Objects get their ip_address loopback
// rewritten and their records collection normalized element-wise; arrays are
// normalized element-wise. Inputs are not modified.
func Normalize(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		if ip, ok := out[ipAddressField].(string); ok {
			out[ipAddressField] = loopback(ip)
		}
		if recs, ok := out[recordsField].([]any); ok {
			out[recordsField] = Normalize(recs)
		}
		return out
	default:
		return v
	}
}

// Body is ToStructuredOrRaw followed by Normalize.
func Body(text string) any {
	return Normalize(ToStructuredOrRaw(text))
}

func loopback(ip string) string {
	if ip == IPv6Loopback {
		return IPv4Loopback
	}
	return ip
}
