package compare

import (
	"reflect"
	"testing"
)

func nestedMaps(levels int) map[string]interface{} {
	root := map[string]interface{}{"request_id": "r0"}
	cur := root
	for i := 1; i < levels; i++ {
		next := map[string]interface{}{"request_id": "r"}
		cur["next"] = next
		cur = next
	}
	return root
}

func TestIsVolatile(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		key  string
		want bool
	}{
		{"created_at", true},
		{"Timestamp", true},
		{"request_id", true},
		{"message", true},
		{"policy_created_at", true},
		{"quote-timestamp", true},
		{"response_latency", true},
		{"env_name", true},
		{"debugInfo", false},
		{"debug_info", true},
		{"customer_request_id", true},
		{"payment_status_code", true},
		{"schema_version", true},
		{"premium", false},
		{"status", false},
		{"policy_number", false},
		{"coverage_type", false},
		{"format", false},
		{"at", false},
		{"data", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := n.IsVolatile(tt.key); got != tt.want {
				t.Errorf("IsVolatile(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer()

	in := map[string]interface{}{
		"status":         "success",
		"premium":        500.0,
		"request_id":     "abc",
		"application_id": "APP-MV4-TOKIO_MARINE-COMPREHENSIVE",
		"created_at":     "2025-01-01T00:00:00Z",
		"policy": map[string]interface{}{
			"policy_number": "POL-1",
			"issued_at":     "2025-01-01",
			"server":        "stg-1",
		},
		"items": []interface{}{
			map[string]interface{}{"amount": 1.0, "trace_id": "t1"},
			"plain",
		},
	}

	want := map[string]interface{}{
		"status":         "success",
		"premium":        500.0,
		"application_id": "APP-MV4-TOKIO_MARINE-COMPREHENSIVE",
		"policy": map[string]interface{}{
			"policy_number": "POL-1",
		},
		"items": []interface{}{
			map[string]interface{}{"amount": 1.0},
			"plain",
		},
	}

	got := n.Normalize(in)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %#v, want %#v", got, want)
	}

	// the input is not modified
	if _, ok := in["request_id"]; !ok {
		t.Error("Normalize() modified its input")
	}

	// normalizing twice changes nothing
	if again := n.Normalize(got); !reflect.DeepEqual(again, got) {
		t.Errorf("Normalize() not idempotent: %#v", again)
	}
}

func TestNormalizeNil(t *testing.T) {
	got := NewNormalizer().Normalize(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Normalize(nil) = %#v, want empty map", got)
	}
}

func TestNormalizeMaxDepth(t *testing.T) {
	n := NewNormalizer(WithMaxDepth(1))
	if n.MaxDepth() != 1 {
		t.Fatalf("MaxDepth() = %d", n.MaxDepth())
	}

	in := map[string]interface{}{
		"request_id": "top",
		"a": map[string]interface{}{
			"request_id": "one",
			"b": map[string]interface{}{
				"request_id": "two",
			},
		},
	}

	got := n.Normalize(in)
	a := got["a"].(map[string]interface{})
	if _, ok := got["request_id"]; ok {
		t.Error("top-level volatile key kept")
	}
	if _, ok := a["request_id"]; ok {
		t.Error("depth-1 volatile key kept")
	}
	b := a["b"].(map[string]interface{})
	if _, ok := b["request_id"]; !ok {
		t.Error("key beyond the depth bound removed")
	}

	if NewNormalizer(WithMaxDepth(0)).MaxDepth() != DefaultMaxDepth {
		t.Error("non-positive depth should fall back to the default")
	}
}

func TestNormalizeExtraFields(t *testing.T) {
	n := NewNormalizer(WithExtraFields("Quote_Ref"))
	got := n.Normalize(map[string]interface{}{"quote_ref": "q1", "premium": 1.0})
	if _, ok := got["quote_ref"]; ok {
		t.Error("extra field not removed")
	}
	if _, ok := got["premium"]; !ok {
		t.Error("business field removed")
	}
}

func TestNormalizeSelfReference(t *testing.T) {
	m := map[string]interface{}{"premium": 1.0, "request_id": "abc"}
	m["self"] = m

	got := NewNormalizer().Normalize(m)
	if got["premium"] != 1.0 {
		t.Errorf("premium = %v, want 1", got["premium"])
	}
	if _, ok := got["request_id"]; ok {
		t.Error("top-level volatile key kept")
	}
	if _, ok := got["self"].(map[string]interface{}); !ok {
		t.Errorf("self = %T, want a map", got["self"])
	}
}

func TestNormalizeStopsDescendingPastBound(t *testing.T) {
	in := nestedMaps(12)
	got := NewNormalizer(WithMaxDepth(2)).Normalize(in)

	var gotLevel, inLevel interface{} = got, in
	for depth := 0; depth <= 2; depth++ {
		g := gotLevel.(map[string]interface{})
		if _, ok := g["request_id"]; ok {
			t.Errorf("volatile key kept at depth %d", depth)
		}
		gotLevel = g["next"]
		inLevel = inLevel.(map[string]interface{})["next"]
	}

	// depth 3 is past the bound and returned as it is
	if reflect.ValueOf(gotLevel).Pointer() != reflect.ValueOf(inLevel).Pointer() {
		t.Error("value past the depth bound was copied")
	}
	if _, ok := gotLevel.(map[string]interface{})["request_id"]; !ok {
		t.Error("key past the depth bound removed")
	}
}
