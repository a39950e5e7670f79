// Package fault classifies processing errors so callers can tell bad sensor
// input apart from bugs.
package fault

import (
	"errors"
	"fmt"
)

// Class is the severity class of a processing error.
type Class int

const (
	// Transient marks a single bad reading. The update is skipped and counted.
	Transient Class = iota + 1
	// Persistent marks a sensor that keeps failing and has been escalated.
	Persistent
	// Internal marks an invariant violation. The update is rejected and the
	// prior state kept.
	Internal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Persistent:
		return "persistent"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidReading is returned for readings that are missing, non-numeric
	// or outside [0, 100] percent.
	ErrInvalidReading = errors.New("invalid reading")
	// ErrSensorFault is returned once consecutive invalid readings reach the
	// escalation threshold.
	ErrSensorFault = errors.New("sensor fault")
	// ErrOutOfOrder is returned for samples not newer than the vehicle state.
	ErrOutOfOrder = errors.New("out-of-order timestamp")
	// ErrInvariant is returned when an update would produce NaN, infinite or
	// negative quantities.
	ErrInvariant = errors.New("invariant violation")
	// ErrInsufficientData is returned when too few samples are available.
	ErrInsufficientData = errors.New("insufficient data")
)

// Error carries the class and the vehicle an error belongs to.
type Error struct {
	Class     Class
	VehicleID string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	if e.VehicleID == "" {
		return fmt.Sprintf("%s %s: %v", e.Class, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s [%s]: %v", e.Class, e.Op, e.VehicleID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class and operation name.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// Invariantf builds an Internal error wrapping ErrInvariant.
func Invariantf(op, format string, args ...any) *Error {
	return &Error{Class: Internal, Op: op, Err: fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))}
}

// WithVehicle returns err tagged with the vehicle id. Unclassified errors are
// treated as internal.
func WithVehicle(err error, vehicleID string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		cp.VehicleID = vehicleID
		return &cp
	}
	return &Error{Class: Internal, VehicleID: vehicleID, Err: err}
}

// ClassOf returns the class of err, or zero when err is nil or unclassified.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return 0
}

// IsInternal reports whether err signals a bug rather than field conditions.
func IsInternal(err error) bool { return ClassOf(err) == Internal }
