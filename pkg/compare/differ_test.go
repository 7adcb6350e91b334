package compare

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	d := NewDiffer()

	tests := []struct {
		field string
		want  Severity
	}{
		{"premium", SeverityCritical},
		{"total_premium", SeverityCritical},
		{"Policy_Number", SeverityCritical},
		{"policy_id", SeverityCritical},
		{"coverage_type", SeverityCritical},
		{"status", SeverityCritical},
		{"sum_insured", SeverityCritical},
		{"plan_type", SeverityWarning},
		{"vehicle_type", SeverityWarning},
		{"customer_name", SeverityInfo},
		{"amount", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if got := d.Classify(tt.field); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.field, got, tt.want)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name    string
		target  map[string]interface{}
		staging map[string]interface{}
		want    []Difference
		summary Summary
	}{
		{
			name:    "identical",
			target:  map[string]interface{}{"premium": 500.0, "status": "success"},
			staging: map[string]interface{}{"premium": 500.0, "status": "success"},
			want:    []Difference{},
		},
		{
			name:    "int and float compare equal",
			target:  map[string]interface{}{"premium": 500},
			staging: map[string]interface{}{"premium": 500.0},
			want:    []Difference{},
		},
		{
			name: "nested maps compare as whole values",
			target: map[string]interface{}{
				"coverage": map[string]interface{}{"limit": 1000, "excess": 100},
			},
			staging: map[string]interface{}{
				"coverage": map[string]interface{}{"excess": 100.0, "limit": 1000.0},
			},
			want: []Difference{},
		},
		{
			name:    "critical value difference",
			target:  map[string]interface{}{"premium": 500.0},
			staging: map[string]interface{}{"premium": 550.0},
			want: []Difference{{
				Field: "premium", TargetValue: 500.0, StagingValue: 550.0,
				Severity:    SeverityCritical,
				Description: "Value differs for 'premium': target=500, staging=550",
			}},
			summary: Summary{Critical: 1, Total: 1},
		},
		{
			name:    "warning value difference",
			target:  map[string]interface{}{"plan_type": "basic"},
			staging: map[string]interface{}{"plan_type": "standard"},
			want: []Difference{{
				Field: "plan_type", TargetValue: "basic", StagingValue: "standard",
				Severity:    SeverityWarning,
				Description: "Value differs for 'plan_type': target=basic, staging=standard",
			}},
			summary: Summary{Warning: 1, Total: 1},
		},
		{
			name:    "one-sided fields are info in sorted order",
			target:  map[string]interface{}{"zeta": 1.0, "premium": 1.0},
			staging: map[string]interface{}{"alpha": "x", "premium": 1.0},
			want: []Difference{
				{Field: "alpha", StagingValue: "x", Severity: SeverityInfo, Description: "Field added in staging"},
				{Field: "zeta", TargetValue: 1.0, Severity: SeverityInfo, Description: "Field removed from staging"},
			},
			summary: Summary{Info: 2, Total: 2},
		},
		{
			name:    "both nil",
			want:    []Difference{},
			summary: Summary{},
		},
	}

	d := NewDiffer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, summary := d.Diff(tt.target, tt.staging)
			if len(got) != len(tt.want) {
				t.Fatalf("Diff() returned %d differences, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Field != tt.want[i].Field ||
					got[i].Severity != tt.want[i].Severity ||
					got[i].Description != tt.want[i].Description ||
					!valuesEqual(got[i].TargetValue, tt.want[i].TargetValue) ||
					!valuesEqual(got[i].StagingValue, tt.want[i].StagingValue) {
					t.Errorf("difference %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			if summary != tt.summary {
				t.Errorf("summary = %+v, want %+v", summary, tt.summary)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDiffer()
	d.now = func() time.Time { return fixed }

	target := map[string]interface{}{"status": "success", "premium": 500.0}
	staging := map[string]interface{}{"status": "failed", "premium": 500.0}

	c := d.Compare("premium_calculation", target, staging)
	if c.Step != "premium_calculation" {
		t.Errorf("Step = %q", c.Step)
	}
	if !c.ComparedAt.Equal(fixed) {
		t.Errorf("ComparedAt = %v, want %v", c.ComparedAt, fixed)
	}
	if c.Target["status"] != "success" || c.Staging["status"] != "failed" {
		t.Errorf("responses not retained: %+v / %+v", c.Target, c.Staging)
	}
	if !c.HasCritical() {
		t.Error("HasCritical() = false, want true")
	}
	if len(c.Differences) != 1 || c.Differences[0].Field != "status" {
		t.Errorf("Differences = %+v", c.Differences)
	}
}

func TestNormalizeThenDiff(t *testing.T) {
	n := NewNormalizer()
	d := NewDiffer()

	target := n.Normalize(map[string]interface{}{
		"status": "success", "premium": 500.0, "request_id": "t-1", "created_at": "2025-01-01",
	})
	staging := n.Normalize(map[string]interface{}{
		"status": "success", "premium": 500.0, "request_id": "s-9", "created_at": "2025-02-02",
	})

	diffs, summary := d.Diff(target, staging)
	if len(diffs) != 0 || summary.Total != 0 {
		t.Errorf("volatile fields produced differences: %+v", diffs)
	}
}

func TestSummary(t *testing.T) {
	var s Summary
	s.Add(SeverityCritical)
	s.Add(SeverityWarning)
	s.Add(SeverityInfo)
	s.Add(SeverityInfo)

	want := Summary{Critical: 1, Warning: 1, Info: 2, Total: 4}
	if s != want {
		t.Fatalf("after Add: %+v, want %+v", s, want)
	}

	s.Merge(Summary{Critical: 2, Total: 2})
	want = Summary{Critical: 3, Warning: 1, Info: 2, Total: 6}
	if s != want {
		t.Errorf("after Merge: %+v, want %+v", s, want)
	}
}

func TestSeverityUnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{`"critical"`, SeverityCritical, false},
		{`"warning"`, SeverityWarning, false},
		{`"info"`, SeverityInfo, false},
		{`"fatal"`, "", true},
		{`42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var s Severity
			err := json.Unmarshal([]byte(tt.input), &s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if s != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, s, tt.want)
			}
		})
	}
}

func TestDiffSymmetry(t *testing.T) {
	tests := []struct {
		name string
		a    map[string]interface{}
		b    map[string]interface{}
	}{
		{
			name: "critical",
			a:    map[string]interface{}{"premium": 500.0, "policy_number": "POL-1"},
			b:    map[string]interface{}{"premium": 450.0, "policy_number": "POL-2"},
		},
		{
			name: "warning and info",
			a:    map[string]interface{}{"plan_type": "basic", "customer_name": "A"},
			b:    map[string]interface{}{"plan_type": "gold", "customer_name": "B"},
		},
		{
			name: "added and removed keys",
			a:    map[string]interface{}{"only_a": 1.0, "shared": "x"},
			b:    map[string]interface{}{"only_b": true, "shared": "x"},
		},
		{
			name: "nested values",
			a: map[string]interface{}{
				"coverage": map[string]interface{}{"limit": 1000.0},
				"riders":   []interface{}{"flood"},
			},
			b: map[string]interface{}{
				"coverage": map[string]interface{}{"limit": 2000.0},
				"riders":   []interface{}{"flood", "theft"},
			},
		},
		{
			name: "mixed",
			a:    map[string]interface{}{"status": "success", "vehicle_type": "car", "note": "a", "gone": 1.0},
			b:    map[string]interface{}{"status": "failed", "vehicle_type": "van", "note": "b", "new": 2.0},
		},
	}

	d := NewDiffer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward, fs := d.Diff(tt.a, tt.b)
			backward, bs := d.Diff(tt.b, tt.a)

			if len(forward) == 0 {
				t.Fatal("expected differences")
			}
			if len(forward) != len(backward) {
				t.Fatalf("forward has %d differences, backward %d", len(forward), len(backward))
			}
			for i := range forward {
				f, b := forward[i], backward[i]
				if f.Field != b.Field || f.Severity != b.Severity {
					t.Errorf("difference %d: forward %s/%s, backward %s/%s",
						i, f.Field, f.Severity, b.Field, b.Severity)
				}
				if !valuesEqual(f.TargetValue, b.StagingValue) || !valuesEqual(f.StagingValue, b.TargetValue) {
					t.Errorf("difference %d on %s: values not swapped: %+v vs %+v", i, f.Field, f, b)
				}
			}
			if fs != bs {
				t.Errorf("summaries differ: %+v vs %+v", fs, bs)
			}
		})
	}
}

func TestDiffCyclicValues(t *testing.T) {
	a := map[string]interface{}{"premium": 1.0}
	a["self"] = a
	b := map[string]interface{}{"premium": 2.0}
	b["self"] = b

	n := NewNormalizer(WithMaxDepth(2))
	diffs, summary := NewDiffer().Diff(n.Normalize(a), n.Normalize(b))
	if summary.Critical != 1 {
		t.Errorf("summary = %+v, want one critical difference", summary)
	}
	for _, d := range diffs {
		if d.Field == "self" && d.Description == "" {
			t.Error("expected a description for the cyclic field")
		}
	}
}
