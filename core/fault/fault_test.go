package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassOfWrapped(t *testing.T) {
	err := fmt.Errorf("process: %w", New(Transient, "estimator.update", ErrInvalidReading))
	if ClassOf(err) != Transient {
		t.Fatalf("expected transient, got %v", ClassOf(err))
	}
	if !errors.Is(err, ErrInvalidReading) {
		t.Fatalf("sentinel lost in wrapping")
	}
	if ClassOf(errors.New("plain")) != 0 {
		t.Fatalf("plain errors are unclassified")
	}
}

func TestWithVehicle(t *testing.T) {
	base := Invariantf("estimator.update", "uncertainty %f", -1.0)
	tagged := WithVehicle(base, "v1")
	var fe *Error
	if !errors.As(tagged, &fe) || fe.VehicleID != "v1" {
		t.Fatalf("vehicle not attached: %v", tagged)
	}
	if base.VehicleID != "" {
		t.Fatalf("original error mutated")
	}
	if !IsInternal(tagged) || !errors.Is(tagged, ErrInvariant) {
		t.Fatalf("expected internal invariant error")
	}
	if !IsInternal(WithVehicle(errors.New("boom"), "v2")) {
		t.Fatalf("unclassified errors default to internal")
	}
	if WithVehicle(nil, "v3") != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Class: Persistent, VehicleID: "truck-1", Op: "estimator.update", Err: ErrSensorFault}
	want := "persistent estimator.update [truck-1]: sensor fault"
	if e.Error() != want {
		t.Fatalf("got %q", e.Error())
	}
}
