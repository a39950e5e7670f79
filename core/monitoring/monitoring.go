// Package monitoring forwards internal errors to an error tracker. Only
// internal-class faults and recovered panics are reported; bad sensor input
// is expected and stays in logs and metrics.
package monitoring

import (
	"errors"
	"time"

	"github.com/kilianp07/fueltrack/core/fault"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

var current Monitor = NopMonitor{}

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if current != nil {
		current.CaptureException(err, tags)
	}
}

// CaptureFault reports err when it is an internal fault, tagging it with the
// vehicle, operation and class. Other errors are ignored.
func CaptureFault(err error) {
	if !fault.IsInternal(err) {
		return
	}
	CaptureException(err, FaultTags(err))
}

// FaultTags extracts the tags of a classified error.
func FaultTags(err error) map[string]string {
	tags := map[string]string{}
	var fe *fault.Error
	if errors.As(err, &fe) {
		tags["class"] = fe.Class.String()
		if fe.VehicleID != "" {
			tags["vehicle_id"] = fe.VehicleID
		}
		if fe.Op != "" {
			tags["op"] = fe.Op
		}
	}
	return tags
}

// Recover captures panics in goroutines.
func Recover() {
	if current != nil {
		current.Recover()
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	if current != nil {
		current.Flush(d)
	}
}
