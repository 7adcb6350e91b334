package compare

import (
	"strings"
	"unicode"
)

// DefaultMaxDepth bounds how deep the normalizer descends into nested values.
const DefaultMaxDepth = 10

// volatileNames are field names removed wherever they appear.
var volatileNames = map[string]struct{}{
	// timestamps
	"created_at": {}, "updated_at": {}, "timestamp": {}, "date": {}, "time": {},
	"datetime": {}, "issued_at": {}, "applied_at": {}, "checkout_date": {},
	"payment_date": {}, "application_date": {}, "generated_at": {},
	// environment metadata
	"environment": {}, "env": {}, "server": {}, "hostname": {}, "host": {},
	"region": {}, "zone": {}, "instance_id": {}, "deployment_id": {},
	// per-call identifiers
	"request_id": {}, "transaction_id": {}, "correlation_id": {}, "trace_id": {},
	"span_id": {}, "uuid": {}, "guid": {}, "session_id": {}, "execution_id": {},
	// build and internal metadata
	"version": {}, "api_version": {}, "build": {}, "build_number": {}, "service": {},
	"component": {}, "module": {}, "internal": {},
	// non-business wrapper fields
	"message": {}, "status_code": {}, "response_time": {}, "latency": {},
	"processing_time": {}, "debug": {}, "trace": {},
}

// volatileLastTokens match keys whose final token marks a timestamp or a timing.
var volatileLastTokens = map[string]struct{}{
	"at": {}, "date": {}, "timestamp": {}, "time": {}, "datetime": {},
	"latency": {}, "ms": {},
}

// volatileFirstTokens match keys namespaced by environment or debug metadata.
var volatileFirstTokens = map[string]struct{}{
	"env": {}, "environment": {}, "server": {}, "hostname": {}, "debug": {},
	"internal": {}, "build": {},
}

// volatileSuffixes match keys that end in a per-call identifier phrase.
var volatileSuffixes = []string{
	"_request_id", "_transaction_id", "_correlation_id", "_trace_id",
	"_session_id", "_execution_id", "_instance_id", "_deployment_id",
	"_status_code", "_uuid", "_guid", "_version",
}

// Normalizer strips volatile fields from responses before comparison.
// It is a denylist: any key it does not recognise survives.
type Normalizer struct {
	maxDepth int
	extra    map[string]struct{}
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithMaxDepth sets the recursion bound. Values below one fall back to DefaultMaxDepth.
func WithMaxDepth(depth int) NormalizerOption {
	return func(n *Normalizer) {
		if depth > 0 {
			n.maxDepth = depth
		}
	}
}

// WithExtraFields adds exact field names to the denylist.
func WithExtraFields(fields ...string) NormalizerOption {
	return func(n *Normalizer) {
		for _, f := range fields {
			n.extra[strings.ToLower(f)] = struct{}{}
		}
	}
}

// NewNormalizer creates a normalizer with the built-in denylist.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		maxDepth: DefaultMaxDepth,
		extra:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// MaxDepth returns the configured recursion bound.
func (n *Normalizer) MaxDepth() int {
	return n.maxDepth
}

// Normalize returns a copy of response with volatile keys removed.
// Values nested deeper than the configured bound are returned as they are,
// without descending into them, so cyclic structures terminate.
// Normalizing an already normalized value returns an equal value.
func (n *Normalizer) Normalize(response map[string]interface{}) map[string]interface{} {
	if response == nil {
		return map[string]interface{}{}
	}
	return n.normalizeMap(response, 0)
}

func (n *Normalizer) normalizeMap(in map[string]interface{}, depth int) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if n.IsVolatile(k) {
			continue
		}
		out[k] = n.normalizeValue(v, depth+1)
	}
	return out
}

func (n *Normalizer) normalizeValue(v interface{}, depth int) interface{} {
	if depth > n.maxDepth {
		return v
	}
	switch val := v.(type) {
	case map[string]interface{}:
		return n.normalizeMap(val, depth)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = n.normalizeValue(item, depth+1)
		}
		return out
	default:
		return val
	}
}

// IsVolatile reports whether a field name is treated as volatile.
func (n *Normalizer) IsVolatile(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := volatileNames[lower]; ok {
		return true
	}
	if _, ok := n.extra[lower]; ok {
		return true
	}

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) < 2 {
		return false
	}
	if _, ok := volatileLastTokens[tokens[len(tokens)-1]]; ok {
		return true
	}
	if _, ok := volatileFirstTokens[tokens[0]]; ok {
		return true
	}

	joined := strings.Join(tokens, "_")
	for _, suffix := range volatileSuffixes {
		if strings.HasSuffix(joined, suffix) {
			return true
		}
	}
	return false
}
