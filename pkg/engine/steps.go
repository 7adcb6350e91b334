package engine

import (
	"context"
	"fmt"
)

// Step is one stage of the fixed purchase workflow.
type Step int

// The seven workflow steps in execution order.
const (
	StepApplicationSubmit Step = iota + 1
	StepApplyCoupon
	StepPaymentCheckout
	StepAdminPolicyList
	StepAdminPolicyDetails
	StepCustomerPolicyList
	StepCustomerPolicyDetails
)

var stepNames = map[Step]string{
	StepApplicationSubmit:     "application_submit",
	StepApplyCoupon:           "apply_coupon",
	StepPaymentCheckout:       "payment_checkout",
	StepAdminPolicyList:       "admin_policy_list",
	StepAdminPolicyDetails:    "admin_policy_details",
	StepCustomerPolicyList:    "customer_policy_list",
	StepCustomerPolicyDetails: "customer_policy_details",
}

// Steps returns the workflow steps in execution order.
func Steps() []Step {
	return []Step{
		StepApplicationSubmit,
		StepApplyCoupon,
		StepPaymentCheckout,
		StepAdminPolicyList,
		StepAdminPolicyDetails,
		StepCustomerPolicyList,
		StepCustomerPolicyDetails,
	}
}

// StepNames returns the step names in execution order.
func StepNames() []string {
	steps := Steps()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.String()
	}
	return names
}

// ParseStep returns the step with the given name.
func ParseStep(name string) (Step, error) {
	for step, n := range stepNames {
		if n == name {
			return step, nil
		}
	}
	return 0, NewConfigurationError(fmt.Sprintf("unknown step %q", name), nil).
		WithCode(ErrCodeNotFound)
}

// String returns the wire name of the step.
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Index returns the zero-based position of the step in the sequence.
func (s Step) Index() int {
	return int(s) - 1
}

// IsLast returns true for the final workflow step.
func (s Step) IsLast() bool {
	return s == StepCustomerPolicyDetails
}

// Validate checks if the step is one of the workflow steps.
func (s Step) Validate() error {
	if _, ok := stepNames[s]; !ok {
		return fmt.Errorf("invalid step: %d", int(s))
	}
	return nil
}

// MarshalText encodes the step as its name, so steps work as JSON values and map keys.
func (s Step) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a step name.
func (s *Step) UnmarshalText(data []byte) error {
	step, err := ParseStep(string(data))
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// StepHandlers implements every workflow step. Each method receives the
// request for its own step only.
type StepHandlers interface {
	ApplicationSubmit(ctx context.Context, req *StepRequest) (*StepResult, error)
	ApplyCoupon(ctx context.Context, req *StepRequest) (*StepResult, error)
	PaymentCheckout(ctx context.Context, req *StepRequest) (*StepResult, error)
	AdminPolicyList(ctx context.Context, req *StepRequest) (*StepResult, error)
	AdminPolicyDetails(ctx context.Context, req *StepRequest) (*StepResult, error)
	CustomerPolicyList(ctx context.Context, req *StepRequest) (*StepResult, error)
	CustomerPolicyDetails(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// Dispatch routes a request to the handler for its step.
func Dispatch(ctx context.Context, h StepHandlers, req *StepRequest) (*StepResult, error) {
	switch req.Step {
	case StepApplicationSubmit:
		return h.ApplicationSubmit(ctx, req)
	case StepApplyCoupon:
		return h.ApplyCoupon(ctx, req)
	case StepPaymentCheckout:
		return h.PaymentCheckout(ctx, req)
	case StepAdminPolicyList:
		return h.AdminPolicyList(ctx, req)
	case StepAdminPolicyDetails:
		return h.AdminPolicyDetails(ctx, req)
	case StepCustomerPolicyList:
		return h.CustomerPolicyList(ctx, req)
	case StepCustomerPolicyDetails:
		return h.CustomerPolicyDetails(ctx, req)
	default:
		return nil, NewInternalError(fmt.Sprintf("no handler for %s", req.Step), nil)
	}
}

// DispatchingExecutor adapts a StepHandlers implementation to StepExecutor.
type DispatchingExecutor struct {
	handlers StepHandlers
}

// NewDispatchingExecutor creates a step executor backed by handlers.
func NewDispatchingExecutor(handlers StepHandlers) *DispatchingExecutor {
	return &DispatchingExecutor{handlers: handlers}
}

// Execute implements StepExecutor.
func (d *DispatchingExecutor) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return Dispatch(ctx, d.handlers, req)
}
