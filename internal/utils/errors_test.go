package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := E(KindPersistence, "ingest", "append event", errors.New("disk full"))
	want := "ingest: append event: disk full"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}

	bare := E(KindValidation, "ingest", "invalid event", nil)
	if bare.Error() != "ingest: invalid event" {
		t.Fatalf("unexpected message: %q", bare.Error())
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	inner := E(KindTransient, "poller", "fetch events", errors.New("timeout"))
	wrapped := fmt.Errorf("cycle failed: %w", inner)

	if !IsKind(wrapped, KindTransient) {
		t.Fatalf("expected transient kind through wrapping")
	}
	if IsKind(wrapped, KindPersistence) {
		t.Fatalf("kind mismatch not detected")
	}
	if IsKind(errors.New("plain"), KindTransient) {
		t.Fatalf("plain error misclassified")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := E(KindDelivery, "hub", "send", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("unwrap chain broken")
	}
}
