package engine

import (
	"context"
	"encoding/json"
	"testing"
)

func TestStepsOrder(t *testing.T) {
	want := []string{
		"application_submit",
		"apply_coupon",
		"payment_checkout",
		"admin_policy_list",
		"admin_policy_details",
		"customer_policy_list",
		"customer_policy_details",
	}

	got := StepNames()
	if len(got) != len(want) {
		t.Fatalf("Expected %d steps, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	for i, step := range Steps() {
		if step.Index() != i {
			t.Errorf("%s: expected index %d, got %d", step, i, step.Index())
		}
	}
	if !StepCustomerPolicyDetails.IsLast() || StepApplyCoupon.IsLast() {
		t.Error("IsLast mismatch")
	}
}

func TestParseStep(t *testing.T) {
	for _, step := range Steps() {
		parsed, err := ParseStep(step.String())
		if err != nil {
			t.Fatalf("ParseStep(%s) failed: %v", step, err)
		}
		if parsed != step {
			t.Errorf("ParseStep(%s) = %s", step, parsed)
		}
	}

	if _, err := ParseStep("refund"); !IsNotFound(err) {
		t.Errorf("Expected not found for unknown step, got %v", err)
	}
}

func TestStepJSON(t *testing.T) {
	states := map[Step]StepState{
		StepApplicationSubmit: StepStateSucceed,
		StepApplyCoupon:       StepStateFailed,
	}
	data, err := json.Marshal(states)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"application_submit":"succeed","apply_coupon":"failed"}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}

	var rec StepRecord
	if err := json.Unmarshal([]byte(`{"step":"payment_checkout","environment":"staging","status":"success"}`), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if rec.Step != StepPaymentCheckout || !rec.Succeeded() {
		t.Errorf("Unexpected record: %+v", rec)
	}

	if err := json.Unmarshal([]byte(`{"step":"refund"}`), &rec); err == nil {
		t.Error("Expected error for unknown step")
	}
}

// handler recorder for dispatch testing
type recordingHandlers struct {
	called []string
}

func (h *recordingHandlers) record(name string) (*StepResult, error) {
	h.called = append(h.called, name)
	return &StepResult{Success: true, StatusCode: 200, Response: map[string]interface{}{"handler": name}}, nil
}

func (h *recordingHandlers) ApplicationSubmit(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("application_submit")
}

func (h *recordingHandlers) ApplyCoupon(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("apply_coupon")
}

func (h *recordingHandlers) PaymentCheckout(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("payment_checkout")
}

func (h *recordingHandlers) AdminPolicyList(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("admin_policy_list")
}

func (h *recordingHandlers) AdminPolicyDetails(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("admin_policy_details")
}

func (h *recordingHandlers) CustomerPolicyList(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("customer_policy_list")
}

func (h *recordingHandlers) CustomerPolicyDetails(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.record("customer_policy_details")
}

func TestDispatchRoutesEveryStep(t *testing.T) {
	h := &recordingHandlers{}
	executor := NewDispatchingExecutor(h)

	for _, step := range Steps() {
		result, err := executor.Execute(context.Background(), &StepRequest{Step: step})
		if err != nil {
			t.Fatalf("Dispatch(%s) failed: %v", step, err)
		}
		if result.Response["handler"] != step.String() {
			t.Errorf("Dispatch(%s) reached %v", step, result.Response["handler"])
		}
	}
	if len(h.called) != 7 {
		t.Errorf("Expected 7 handler calls, got %d", len(h.called))
	}

	if _, err := Dispatch(context.Background(), h, &StepRequest{Step: Step(42)}); !IsInternal(err) {
		t.Errorf("Expected internal error for unknown step, got %v", err)
	}
}

func TestStepResultSucceeded(t *testing.T) {
	tests := []struct {
		name   string
		result *StepResult
		want   bool
	}{
		{"nil", nil, false},
		{"success 200", &StepResult{Success: true, StatusCode: 200}, true},
		{"success 201", &StepResult{Success: true, StatusCode: 201}, true},
		{"success flag false", &StepResult{Success: false, StatusCode: 200}, false},
		{"non-2xx", &StepResult{Success: true, StatusCode: 500}, false},
		{"redirect", &StepResult{Success: true, StatusCode: 302}, false},
		{"missing status", &StepResult{Success: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}
