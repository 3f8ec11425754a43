package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := stdErrors.New("rpc reset")
	err := Wrap(CodeLedgerWriteFailed, cause, "", WithMetadata("agreement_id", "3"))

	if err.Message() != "ledger write failed" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if got := err.Metadata()["agreement_id"]; got != "3" {
		t.Fatalf("unexpected metadata: %q", got)
	}
	if !err.Retryable() {
		t.Fatal("ledger write failures should be marked retryable for callers")
	}
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	inner := New(CodeNotAuthorized, "caller is not the provider")
	outer := fmt.Errorf("respond: %w", inner)

	if !HasCode(outer, CodeNotAuthorized) {
		t.Fatal("expected NOT_AUTHORIZED in chain")
	}
	if HasCode(outer, CodeInvalidTransition) {
		t.Fatal("unexpected INVALID_TRANSITION match")
	}
	if CodeOf(outer) != CodeNotAuthorized {
		t.Fatalf("unexpected code %s", CodeOf(outer))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors should map to UNKNOWN")
	}
}

func TestAttributesFallback(t *testing.T) {
	attr := AttributesOf(Code("NOT_REGISTERED"))
	if attr.Severity != SeverityCritical {
		t.Fatalf("expected unknown fallback, got %+v", attr)
	}

	if SeverityOf(New(CodeConfirmationUnparseable, "")) != SeverityCritical {
		t.Fatal("unparseable confirmations are critical")
	}
	if RetryableError(fmt.Errorf("wrapped: %w", New(CodeInvalidScore, ""))) {
		t.Fatal("invalid scores are not retryable")
	}
	if SeverityOf(stdErrors.New("plain")) != SeverityCritical {
		t.Fatal("plain errors fall back to UNKNOWN severity")
	}
}
