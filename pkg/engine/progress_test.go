package engine

import (
	"errors"
	"testing"
	"time"
)

func records(pairs ...interface{}) []StepRecord {
	var out []StepRecord
	for i := 0; i+2 < len(pairs); i += 3 {
		step := pairs[i].(Step)
		env := pairs[i+1].(Environment)
		outcome := StepOutcomeSuccess
		if !pairs[i+2].(bool) {
			outcome = StepOutcomeFailure
		}
		out = append(out, StepRecord{Step: step, Environment: env, Outcome: outcome})
	}
	return out
}

func TestStepStates(t *testing.T) {
	tests := []struct {
		name string
		exec *Execution
		want map[Step]StepState
	}{
		{
			name: "pending execution",
			exec: &Execution{Status: ExecutionStatusPending, Policy: FailurePolicyFailFast},
			want: map[Step]StepState{
				StepApplicationSubmit:     StepStatePending,
				StepCustomerPolicyDetails: StepStatePending,
			},
		},
		{
			name: "mid-step in progress",
			exec: &Execution{
				Status: ExecutionStatusInProgress,
				Policy: FailurePolicyFailFast,
				Steps: records(
					StepApplicationSubmit, EnvironmentTarget, true,
					StepApplicationSubmit, EnvironmentStaging, true,
					StepApplyCoupon, EnvironmentTarget, true,
				),
			},
			want: map[Step]StepState{
				StepApplicationSubmit: StepStateSucceed,
				StepApplyCoupon:       StepStatePending,
				StepPaymentCheckout:   StepStatePending,
			},
		},
		{
			name: "fail fast on target",
			exec: &Execution{
				Status:      ExecutionStatusCompletedWithFailures,
				Policy:      FailurePolicyFailFast,
				HasFailures: true,
				Steps: records(
					StepApplicationSubmit, EnvironmentTarget, true,
					StepApplicationSubmit, EnvironmentStaging, true,
					StepApplyCoupon, EnvironmentTarget, false,
				),
			},
			want: map[Step]StepState{
				StepApplicationSubmit:     StepStateSucceed,
				StepApplyCoupon:           StepStateFailed,
				StepPaymentCheckout:       StepStateCanNotProceed,
				StepCustomerPolicyDetails: StepStateCanNotProceed,
			},
		},
		{
			name: "continue policy in progress",
			exec: &Execution{
				Status:      ExecutionStatusInProgress,
				Policy:      FailurePolicyContinue,
				HasFailures: true,
				Steps: records(
					StepApplicationSubmit, EnvironmentTarget, false,
					StepApplicationSubmit, EnvironmentStaging, true,
				),
			},
			want: map[Step]StepState{
				StepApplicationSubmit: StepStateFailed,
				StepApplyCoupon:       StepStatePending,
			},
		},
		{
			name: "internal failure after target call",
			exec: &Execution{
				Status: ExecutionStatusFailed,
				Policy: FailurePolicyFailFast,
				Steps: records(
					StepApplicationSubmit, EnvironmentTarget, true,
				),
			},
			want: map[Step]StepState{
				StepApplicationSubmit: StepStateCanNotProceed,
				StepApplyCoupon:       StepStateCanNotProceed,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StepStates(tt.exec)
			if len(got) != 7 {
				t.Fatalf("Expected 7 states, got %d", len(got))
			}
			for step, want := range tt.want {
				if got[step] != want {
					t.Errorf("%s: expected %s, got %s", step, want, got[step])
				}
			}
		})
	}
}

func TestProgressKey(t *testing.T) {
	key := ProgressKey("sess_20260101_120000_abc123", testItem)
	want := "sessions/sess_20260101_120000_abc123/MV4_TOKIO_MARINE_COMPREHENSIVE_progress.json"
	if key != want {
		t.Errorf("Expected %s, got %s", want, key)
	}

	other := testItem
	other.TargetEnvironment = "SIT"
	if ProgressKey("sess_x", other) != ProgressKey("sess_x", testItem) {
		t.Error("Key must not depend on the target environment")
	}
	if prefix := SessionPrefix("sess_x"); prefix != "sessions/sess_x/" {
		t.Errorf("Unexpected prefix %s", prefix)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	started := time.Now().UTC().Truncate(time.Millisecond)
	failed := StepApplyCoupon
	exec := &Execution{
		ID:          "exec_1",
		SessionID:   "sess_1",
		WorkItem:    testItem,
		Policy:      FailurePolicyFailFast,
		Status:      ExecutionStatusCompletedWithFailures,
		HasFailures: true,
		FailedStep:  &failed,
		Steps: records(
			StepApplicationSubmit, EnvironmentTarget, true,
			StepApplicationSubmit, EnvironmentStaging, true,
			StepApplyCoupon, EnvironmentTarget, false,
		),
		StartedAt: &started,
	}

	data, err := EncodeSnapshot(exec)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}

	if decoded.FailedStep == nil || *decoded.FailedStep != StepApplyCoupon {
		t.Errorf("FailedStep not preserved: %v", decoded.FailedStep)
	}
	if !decoded.StartedAt.Equal(started) {
		t.Errorf("StartedAt not preserved: %v", decoded.StartedAt)
	}
	got := ProgressMap(decoded)
	want := ProgressMap(exec)
	for step, state := range want {
		if got[step] != state {
			t.Errorf("%s: %s != %s", step, got[step], state)
		}
	}

	if _, err := DecodeSnapshot([]byte(`{"status":"exploded"}`)); err == nil {
		t.Error("Expected invalid status to be rejected")
	}
}

func TestEngineErrorClassification(t *testing.T) {
	cause := errors.New("no such file")
	err := NewPersistenceError("failed to read progress", cause).WithResource("exec_1").WithOperation("read")

	if !IsPersistence(err) || IsInternal(err) {
		t.Error("Expected persistence classification")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause in error chain")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassPersistence, Code: ErrCodePersistenceFailed}) {
		t.Error("Expected class/code equality")
	}
	if ClassOf(cause) != ErrorClassInternal {
		t.Error("Plain errors classify as internal")
	}
	want := "[persistence] failed to read progress (resource=exec_1, operation=read): no such file"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestDelayNext(t *testing.T) {
	d := Delay{Min: time.Second, Max: 3 * time.Second}
	for i := 0; i < 100; i++ {
		got := d.Next()
		if got < d.Min || got > d.Max {
			t.Fatalf("Next() = %v outside [%v, %v]", got, d.Min, d.Max)
		}
	}
	if got := (Delay{Min: 2 * time.Second, Max: time.Second}).Next(); got != 2*time.Second {
		t.Errorf("Inverted range should return Min, got %v", got)
	}
	if got := (Delay{}).Next(); got != 0 {
		t.Errorf("Zero range should return 0, got %v", got)
	}
}
