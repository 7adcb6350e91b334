package simulator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/engine"
)

// Pricing and coupon constants of the simulated back end.
const (
	BasePremium     = 500.00
	CouponCode      = "SAVE10"
	CouponDiscount  = 0.10
	Currency        = "MYR"
	SumInsured      = 50000.00
	DefaultCustomer = "John Doe"
)

// Simulator is an in-process insurance back end implementing every
// workflow step. Business identifiers are derived from the work item, so
// both environments agree on them; per-call identifiers are random.
type Simulator struct {
	faults  FaultRule
	latency time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithFaultRule replaces the fault rule. The default is NoFaults.
func WithFaultRule(rule FaultRule) Option {
	return func(s *Simulator) {
		if rule != nil {
			s.faults = rule
		}
	}
}

// WithLatency makes every call take at least d, honoring cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

// WithClock sets the time source for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger.With().Str("component", "simulator").Logger()
	}
}

// New creates a simulator.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		faults: NoFaults,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Executor returns an engine.StepExecutor dispatching to the simulator.
func (s *Simulator) Executor() engine.StepExecutor {
	return engine.NewDispatchingExecutor(s)
}

// ApplicationSubmit implements engine.StepHandlers.
func (s *Simulator) ApplicationSubmit(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	w := req.WorkItem
	request := map[string]interface{}{
		"category":          w.Category,
		"product_id":        w.Product,
		"plan_id":           w.Plan,
		"customer_data":     customerData(),
		"policy_start_date": "2026-02-01",
		"policy_end_date":   "2027-01-31",
		"sum_insured":       SumInsured,
		"application_date":  s.now().UTC().Format(time.RFC3339),
	}
	response := map[string]interface{}{
		"status":         "success",
		"application_id": ApplicationID(w),
		"category":       w.Category,
		"product_id":     w.Product,
		"plan_id":        w.Plan,
		"premium":        BasePremium,
		"currency":       Currency,
		"next_step":      engine.StepApplyCoupon.String(),
		"message":        "Application submitted successfully",
	}
	return s.respond(ctx, req, request, response)
}

// ApplyCoupon implements engine.StepHandlers.
func (s *Simulator) ApplyCoupon(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	appID := s.applicationID(req)
	request := map[string]interface{}{
		"application_id": appID,
		"coupon_code":    CouponCode,
	}
	discount := BasePremium * CouponDiscount
	response := map[string]interface{}{
		"status":           "success",
		"application_id":   appID,
		"coupon_code":      CouponCode,
		"discount_percent": int(CouponDiscount * 100),
		"original_amount":  BasePremium,
		"discount_amount":  discount,
		"new_amount":       BasePremium - discount,
		"currency":         Currency,
		"message":          "Coupon applied successfully. You saved 10%!",
	}
	return s.respond(ctx, req, request, response)
}

// PaymentCheckout implements engine.StepHandlers.
func (s *Simulator) PaymentCheckout(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	appID := s.applicationID(req)
	request := map[string]interface{}{
		"application_id": appID,
		"payment_method": "CREDIT_CARD",
		"amount":         discountedPremium(),
		"currency":       Currency,
	}
	response := map[string]interface{}{
		"status":         "success",
		"application_id": appID,
		"payment_method": "CREDIT_CARD",
		"amount":         discountedPremium(),
		"currency":       Currency,
		"payment_status": "completed",
		"policy_number":  PolicyNumber(req.WorkItem),
		"payment_date":   s.now().UTC().Format(time.RFC3339),
		"transaction_id": "TXN" + strings.ToUpper(randomHex(10)),
		"message":        "Payment processed successfully",
	}
	return s.respond(ctx, req, request, response)
}

// AdminPolicyList implements engine.StepHandlers.
func (s *Simulator) AdminPolicyList(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	request := map[string]interface{}{
		"page":     1,
		"limit":    50,
		"category": req.WorkItem.Category,
	}
	policy := policySummary(req.WorkItem)
	policy["customer_name"] = DefaultCustomer
	response := map[string]interface{}{
		"status":         "success",
		"total_policies": 1,
		"page":           1,
		"limit":          50,
		"policies":       []interface{}{policy},
	}
	return s.respond(ctx, req, request, response)
}

// AdminPolicyDetails implements engine.StepHandlers.
func (s *Simulator) AdminPolicyDetails(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	w := req.WorkItem
	request := map[string]interface{}{"policy_id": PolicyID(w)}
	response := policyDetails(w)
	response["customer_name"] = DefaultCustomer
	response["customer_email"] = "john.doe@example.com"
	response["coverage"] = coverage(w)
	return s.respond(ctx, req, request, response)
}

// CustomerPolicyList implements engine.StepHandlers.
func (s *Simulator) CustomerPolicyList(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	request := map[string]interface{}{
		"page":  1,
		"limit": 50,
	}
	policy := policySummary(req.WorkItem)
	policy["renewal_date"] = "2027-01-31"
	response := map[string]interface{}{
		"status":         "success",
		"total_policies": 1,
		"page":           1,
		"limit":          50,
		"policies":       []interface{}{policy},
	}
	return s.respond(ctx, req, request, response)
}

// CustomerPolicyDetails implements engine.StepHandlers.
func (s *Simulator) CustomerPolicyDetails(ctx context.Context, req *engine.StepRequest) (*engine.StepResult, error) {
	w := req.WorkItem
	request := map[string]interface{}{"policy_id": PolicyID(w)}
	response := policyDetails(w)
	response["coverage"] = coverage(w)
	response["exclusions"] = []interface{}{
		"Driving under influence",
		"Unauthorized driver",
		"Racing competitions",
	}
	response["contact_support"] = map[string]interface{}{
		"phone": "+601800123456",
		"email": "support@insurance.example",
		"hours": "24/7",
	}
	return s.respond(ctx, req, request, response)
}

// respond waits out the simulated latency, stamps per-call fields and
// applies the fault rule.
func (s *Simulator) respond(ctx context.Context, req *engine.StepRequest, request, response map[string]interface{}) (*engine.StepResult, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	response["request_id"] = uuid.NewString()
	response["responded_at"] = s.now().UTC().Format(time.RFC3339Nano)
	response["environment"] = req.Environment

	result := &engine.StepResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Request:    request,
		Response:   response,
	}

	fault, err := s.faults.Fault(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("step", req.Step.String()).
			Str("work_item", req.WorkItem.String()).
			Msg("Fault rule failed, serving normal response")
		return result, nil
	}
	if fault == nil {
		return result, nil
	}

	for k, v := range fault.Patch {
		if v == nil {
			delete(response, k)
			continue
		}
		response[k] = v
	}
	if fault.StatusCode != 0 {
		result.StatusCode = fault.StatusCode
	}
	if fault.Fails() {
		result.Success = false
		result.Error = fault.Error
		response["status"] = "error"
		response["error"] = fault.Error
	}

	s.logger.Debug().
		Str("step", req.Step.String()).
		Str("role", string(req.Role)).
		Str("work_item", req.WorkItem.String()).
		Int("status_code", result.StatusCode).
		Msg("Fault injected")

	return result, nil
}

// applicationID prefers the id captured from the target application_submit.
func (s *Simulator) applicationID(req *engine.StepRequest) string {
	if req.Context.ApplicationID != "" {
		return req.Context.ApplicationID
	}
	return ApplicationID(req.WorkItem)
}

var _ engine.StepHandlers = (*Simulator)(nil)
