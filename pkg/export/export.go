// Package export writes event history in formats meant for spreadsheets and
// downstream tooling.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/fueltrack/core/model"
)

// WriteJSON writes one event per line.
func WriteJSON(w io.Writer, events []model.Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

var csvHeader = []string{"id", "ts", "vehicle_id", "fleet_id", "kind", "detail", "magnitude", "confidence"}

// WriteCSV flattens events into one row each. Columns that do not apply to
// an event kind are left empty.
func WriteCSV(w io.Writer, events []model.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, ev := range events {
		detail, magnitude, confidence := flatten(ev)
		rec := []string{
			ev.ID,
			ev.Timestamp.Format(time.RFC3339),
			ev.VehicleID,
			ev.FleetID,
			string(ev.Kind),
			detail,
			magnitude,
			confidence,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func flatten(ev model.Event) (detail, magnitude, confidence string) {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch {
	case ev.Refuel != nil:
		return "", f(ev.Refuel.Magnitude), f(ev.Refuel.Confidence.Float64())
	case ev.Theft != nil:
		return ev.Theft.Action, f(ev.Theft.Magnitude), f(ev.Theft.Confidence.Float64())
	case ev.SensorFault != nil:
		return ev.SensorFault.Reason, strconv.Itoa(ev.SensorFault.SkipCount), ""
	case ev.Maintenance != nil:
		return ev.Maintenance.Channel + ":" + ev.Maintenance.Risk.String(), f(ev.Maintenance.Slope), f(ev.Maintenance.Confidence.Float64())
	case ev.FleetPattern != nil:
		return ev.FleetPattern.Signature, strconv.Itoa(ev.FleetPattern.Affected), f(ev.FleetPattern.Fraction)
	}
	return "", "", ""
}
