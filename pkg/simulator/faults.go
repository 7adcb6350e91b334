package simulator

import (
	"context"
	"net/http"

	"github.com/openfroyo/parity/pkg/engine"
)

// Fault replaces or alters the normal outcome of a step call.
type Fault struct {
	// StatusCode is the status reported for the call. Zero keeps the normal
	// 200, so a fault can carry only a patch.
	StatusCode int `json:"status_code,omitempty"`

	// Error is the failure reason reported with a non-2xx status.
	Error string `json:"error,omitempty"`

	// Patch overrides response fields. A nil value removes the field.
	Patch map[string]interface{} `json:"patch,omitempty"`
}

// Fails reports whether the fault turns the call into a failure.
func (f *Fault) Fails() bool {
	return f != nil && f.StatusCode != 0 && (f.StatusCode < 200 || f.StatusCode >= 300)
}

// FaultRule decides whether a step call is faulted. A nil fault means the
// call behaves normally.
type FaultRule interface {
	Fault(ctx context.Context, req *engine.StepRequest) (*Fault, error)
}

// FaultRuleFunc is a function adapter for FaultRule.
type FaultRuleFunc func(ctx context.Context, req *engine.StepRequest) (*Fault, error)

// Fault implements FaultRule.
func (f FaultRuleFunc) Fault(ctx context.Context, req *engine.StepRequest) (*Fault, error) {
	return f(ctx, req)
}

// NoFaults never faults a call.
var NoFaults FaultRule = FaultRuleFunc(func(context.Context, *engine.StepRequest) (*Fault, error) {
	return nil, nil
})

// DefaultFaults fails payment_checkout with a 500 in the target environment
// for MV4/TOKIO_MARINE/COMPREHENSIVE.
var DefaultFaults FaultRule = FaultRuleFunc(func(_ context.Context, req *engine.StepRequest) (*Fault, error) {
	w := req.WorkItem
	if req.Step == engine.StepPaymentCheckout &&
		req.Role == engine.EnvironmentTarget &&
		w.Category == "MV4" && w.Product == "TOKIO_MARINE" && w.Plan == "COMPREHENSIVE" {
		return &Fault{
			StatusCode: http.StatusInternalServerError,
			Error:      "Payment gateway timeout",
		}, nil
	}
	return nil, nil
})

// ChainFaults returns the first fault any rule reports.
func ChainFaults(rules ...FaultRule) FaultRule {
	return FaultRuleFunc(func(ctx context.Context, req *engine.StepRequest) (*Fault, error) {
		for _, r := range rules {
			f, err := r.Fault(ctx, req)
			if err != nil || f != nil {
				return f, err
			}
		}
		return nil, nil
	})
}
