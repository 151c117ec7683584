package candesc

import "math"

// ToPhysical applies the decode-direction conversion:
// physical = scaling * (raw * factor + offset), skipping any NaN
// parameter. raw is promoted to float64 whenever any parameter applies.
func ToPhysical(raw float64, s SignalDescription) float64 {
	v := raw
	if !math.IsNaN(s.Factor) {
		v = v * s.Factor
	}
	if !math.IsNaN(s.Offset) {
		v = v + s.Offset
	}
	if !math.IsNaN(s.Scaling) {
		v = v * s.Scaling
	}
	return v
}

// ToRaw applies the inverse (encode-direction) conversion. Factor and
// Scaling are guaranteed non-zero whenever applied, because zero is
// normalised to NaN at description-construction time.
func ToRaw(physical float64, s SignalDescription) float64 {
	v := physical
	if !math.IsNaN(s.Scaling) {
		v = v / s.Scaling
	}
	if !math.IsNaN(s.Offset) {
		v = v - s.Offset
	}
	if !math.IsNaN(s.Factor) {
		v = v / s.Factor
	}
	return v
}

// HasConversion reports whether any of factor/offset/scaling applies,
// meaning the decoded value must be represented as a float rather than
// the raw integer type.
func HasConversion(s SignalDescription) bool {
	return !math.IsNaN(s.Factor) || !math.IsNaN(s.Offset) || !math.IsNaN(s.Scaling)
}
