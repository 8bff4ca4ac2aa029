package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
)

// ReferenceRange represents the expected interval for a test result as a value object.
// The boundaries are inclusive: a value equal to Low or High is inside the range.
type ReferenceRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// NewReferenceRange creates a new ReferenceRange value object with validation
func NewReferenceRange(low, high float64) (ReferenceRange, error) {
	if math.IsNaN(low) || math.IsInf(low, 0) {
		return ReferenceRange{}, fmt.Errorf("reference range low must be a finite number")
	}
	if math.IsNaN(high) || math.IsInf(high, 0) {
		return ReferenceRange{}, fmt.Errorf("reference range high must be a finite number")
	}
	if high <= low {
		return ReferenceRange{}, fmt.Errorf("reference range high (%g) must be greater than low (%g)", high, low)
	}
	return ReferenceRange{Low: low, High: high}, nil
}

// MustNewReferenceRange creates a ReferenceRange and panics on error (for constants/tests)
func MustNewReferenceRange(low, high float64) ReferenceRange {
	r, err := NewReferenceRange(low, high)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether v falls inside the range, boundaries included.
func (r ReferenceRange) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

// Width returns the span of the range.
func (r ReferenceRange) Width() float64 {
	return r.High - r.Low
}

// Midpoint returns the center of the range.
func (r ReferenceRange) Midpoint() float64 {
	return (r.Low + r.High) / 2
}

// DistanceOutside returns how far v lies outside the range, zero if inside.
func (r ReferenceRange) DistanceOutside(v float64) float64 {
	return math.Max(math.Max(r.Low-v, v-r.High), 0)
}

// DeviationPercent returns the distance outside the range expressed as a
// percentage of the range width. Zero for in-range values.
func (r ReferenceRange) DeviationPercent(v float64) float64 {
	return r.DistanceOutside(v) / r.Width() * 100
}

// IsZero reports whether the range is the uninitialized zero value.
func (r ReferenceRange) IsZero() bool {
	return r.Low == 0 && r.High == 0
}

// Validate checks the invariants of an already-constructed range
func (r ReferenceRange) Validate() error {
	_, err := NewReferenceRange(r.Low, r.High)
	return err
}

func (r ReferenceRange) String() string {
	return fmt.Sprintf("[%g, %g]", r.Low, r.High)
}

// Value implements driver.Valuer for database storage
func (r ReferenceRange) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *ReferenceRange) Scan(value interface{}) error {
	if value == nil {
		return fmt.Errorf("cannot scan nil into ReferenceRange")
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ReferenceRange", value)
	}

	return json.Unmarshal(data, r)
}
