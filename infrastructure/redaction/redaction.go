package redaction

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
		regexp.MustCompile(`(?i)(secret|token|auth)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
		regexp.MustCompile(`(?i)(Bearer)\s+([a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`(?i)(password)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
		regexp.MustCompile(`(?i)(private[_-]?key|privkey)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
		regexp.MustCompile(`(?i)(access[_-]?key|aws[_-]?secret)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	}
)

type SecretConfig struct {
	Enabled         bool
	RedactionText   string
	AllowedFields   []string
	BlockedPatterns []string
}

func DefaultConfig() SecretConfig {
	return SecretConfig{
		Enabled:       true,
		RedactionText: "***REDACTED***",
		AllowedFields: []string{},
		BlockedPatterns: []string{
			"password",
			"secret",
			"token",
			"apikey",
			"private_key",
			"credential",
			"webhook_secret",
			"bot_token",
			"client_secret",
			"session_token",
			"vault_key",
		},
	}
}

type Redactor struct {
	config SecretConfig
}

func NewRedactor(cfg SecretConfig) *Redactor {
	if cfg.RedactionText == "" {
		cfg.RedactionText = "***REDACTED***"
	}
	return &Redactor{config: cfg}
}

func (r *Redactor) RedactString(s string) string {
	if !r.config.Enabled {
		return s
	}

	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, "${1}: "+r.config.RedactionText)
	}

	return result
}

func (r *Redactor) RedactMap(m map[string]interface{}) map[string]interface{} {
	if !r.config.Enabled {
		return m
	}

	result := make(map[string]interface{})
	for k, v := range m {
		switch {
		case r.isSecretField(k):
			result[k] = r.config.RedactionText
		case v == nil:
			result[k] = v
		default:
			switch val := v.(type) {
			case string:
				result[k] = r.RedactString(val)
			case map[string]interface{}:
				result[k] = r.RedactMap(val)
			case []interface{}:
				result[k] = r.RedactSlice(val)
			default:
				result[k] = v
			}
		}
	}

	return result
}

func (r *Redactor) RedactSlice(s []interface{}) []interface{} {
	if !r.config.Enabled {
		return s
	}

	result := make([]interface{}, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case string:
			result[i] = r.RedactString(val)
		case map[string]interface{}:
			result[i] = r.RedactMap(val)
		default:
			result[i] = val
		}
	}

	return result
}

func (r *Redactor) isSecretField(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	for _, blocked := range r.config.BlockedPatterns {
		if strings.Contains(lowerName, strings.ToLower(blocked)) {
			return true
		}
	}
	return false
}

func RedactAll(s string) string {
	r := NewRedactor(DefaultConfig())
	return r.RedactString(s)
}

func RedactMap(m map[string]interface{}) map[string]interface{} {
	r := NewRedactor(DefaultConfig())
	return r.RedactMap(m)
}

// RedactJSON scrubs secrets out of an arbitrary value destined for a
// persisted log line (an audit entry's args/result, typically) by
// round-tripping it through JSON: an object is redacted field-by-field with
// RedactMap, an array element-by-element with RedactSlice, and anything
// else (a bare string, number, or an already-opaque json.RawMessage) is
// passed through RedactString or returned unchanged. v must already be
// JSON-marshalable; a marshal failure is returned rather than swallowed so
// a caller never silently logs an un-redacted payload.
func RedactJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	r := NewRedactor(DefaultConfig())
	switch val := generic.(type) {
	case map[string]interface{}:
		return r.RedactMap(val), nil
	case []interface{}:
		return r.RedactSlice(val), nil
	case string:
		return r.RedactString(val), nil
	default:
		return val, nil
	}
}
