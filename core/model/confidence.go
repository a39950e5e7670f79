package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Confidence is a score in [0, 1]. The zero value is a valid zero confidence.
// Values can only be built through NewConfidence or ClampConfidence, so a
// percentage never leaks in by accident.
type Confidence struct {
	v float64
}

// NewConfidence validates v and returns it as a Confidence.
func NewConfidence(v float64) (Confidence, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return Confidence{}, fmt.Errorf("confidence %v outside [0,1]", v)
	}
	return Confidence{v: v}, nil
}

// ClampConfidence forces v into [0, 1]. NaN maps to zero.
func ClampConfidence(v float64) Confidence {
	switch {
	case math.IsNaN(v) || v < 0:
		return Confidence{}
	case v > 1:
		return Confidence{v: 1}
	}
	return Confidence{v: v}
}

// Float64 returns the score in [0, 1].
func (c Confidence) Float64() float64 { return c.v }

// Percent returns the score scaled to [0, 100] for display.
func (c Confidence) Percent() float64 { return c.v * 100 }

// Mul combines two independent confidences.
func (c Confidence) Mul(o Confidence) Confidence { return Confidence{v: c.v * o.v} }

func (c Confidence) String() string { return fmt.Sprintf("%.3f", c.v) }

func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.v)
}

func (c *Confidence) UnmarshalJSON(b []byte) error {
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	nc, err := NewConfidence(v)
	if err != nil {
		return err
	}
	*c = nc
	return nil
}
