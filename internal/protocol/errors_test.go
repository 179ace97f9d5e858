package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	if got := ErrUnauthorized.Error(); got != "caller not authorized (err u100)" {
		t.Fatalf("message = %q", got)
	}
	if got := ErrConditionNotMet.Error(); got != "trigger condition not met (err u113)" {
		t.Fatalf("message = %q", got)
	}
}

func TestErrfMatchesSentinel(t *testing.T) {
	err := Errf(CodeInvalidTimestamp, "timestamp %d not after watermark %d", 100, 100)
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatal("Errf result should match the sentinel of the same code")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatal("Errf result must not match other codes")
	}
}

func TestWrappedErrorsMatch(t *testing.T) {
	err := fmt.Errorf("apply for loan: %w", ErrExceedsMaxLTV)
	if !errors.Is(err, ErrExceedsMaxLTV) {
		t.Fatal("wrapped protocol error should still match")
	}
}
