package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/envutil"
)

const redacted = "[REDACTED]"

// redactPolicy decides what happens to a logged value based on its key.
// Credentials are dropped. Customer contact data is replaced by a short salted
// hash so log lines about the same customer still correlate.
type redactPolicy struct {
	enabled bool
	salt    string
	drop    []string
	hash    []string
}

var (
	policyOnce sync.Once
	policy     redactPolicy
)

func currentPolicy() redactPolicy {
	policyOnce.Do(func() {
		policy = redactPolicy{
			enabled: envutil.Bool("LOG_REDACTION_ENABLED", true),
			salt:    envutil.String("LOG_HASH_SALT", ""),
			drop:    []string{"token", "authorization", "password", "secret", "api_key", "apikey", "dsn"},
			hash:    []string{"email", "phone"},
		}
	})
	return policy
}

func sanitizeKVs(kv []interface{}) []interface{} {
	p := currentPolicy()
	if !p.enabled || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key := stringify(kv[i])
		out = append(out, key, p.value(strings.ToLower(key), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func (p redactPolicy) value(key string, val interface{}) interface{} {
	switch {
	case key != "" && containsAny(key, p.drop):
		return redacted
	case key != "" && containsAny(key, p.hash):
		return p.digest(val)
	}
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = p.value(strings.ToLower(strings.TrimSpace(k)), inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = p.value("", inner)
		}
		return out
	default:
		return val
	}
}

func (p redactPolicy) digest(val interface{}) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

func containsAny(key string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
