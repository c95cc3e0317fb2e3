package producers

import "strings"

// ConfigString returns the trimmed string value for key from target.Config or a fallback.
func ConfigString(t Target, key, fallback string) string {
	if t.Config != nil {
		if raw, ok := t.Config[key]; ok {
			if val, ok := raw.(string); ok {
				if trimmed := strings.TrimSpace(val); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return fallback
}

// ConfigInt returns the integer value for key from target.Config or a
// fallback. YAML and JSON decoders disagree on numeric types, so both int
// and float64 shapes are accepted.
func ConfigInt(t Target, key string, fallback int) int {
	if t.Config == nil {
		return fallback
	}
	switch v := t.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

const (
	ConfigUserAgentKey      = "user_agent"
	ConfigAcceptKey         = "accept"
	ConfigAcceptLanguageKey = "accept_language"
)

// Headers builds the common request headers from a target config (skips empty values).
func Headers(t Target) map[string]string {
	headers := make(map[string]string, 3)

	if v := ConfigString(t, ConfigUserAgentKey, ""); v != "" {
		headers["User-Agent"] = v
	}
	if v := ConfigString(t, ConfigAcceptKey, ""); v != "" {
		headers["Accept"] = v
	}
	if v := ConfigString(t, ConfigAcceptLanguageKey, ""); v != "" {
		headers["Accept-Language"] = v
	}

	return headers
}
