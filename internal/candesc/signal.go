package candesc

import (
	"fmt"
	"math"

	"github.com/canline/corebus/internal/bitcodec"
)

// DataSource names where a bit field is read from.
type DataSource int

const (
	SourceFrameId DataSource = iota
	SourcePayload
)

// DataFormat is the interpretation applied to the extracted raw bits.
type DataFormat int

const (
	SignedInteger DataFormat = iota
	UnsignedInteger
	Float
	Double
	AsciiString
)

// DataEndian selects bit ordering; ignored for AsciiString.
type DataEndian int

const (
	LittleEndian DataEndian = iota
	BigEndian
)

// MultiplexState classifies a signal's role in multiplexor resolution.
type MultiplexState int

const (
	MultiplexNone MultiplexState = iota
	MultiplexorSwitch
	MultiplexedSignal
	SwitchAndSignal
)

// Range is an inclusive numeric range used by multiplexor selection.
type Range struct {
	Min, Max float64
}

// Contains reports whether v falls within the inclusive range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ValueDescription is an informational enum label attached to a raw value,
// sourced from DBC VAL_ records. It plays no role in the codec itself.
type ValueDescription struct {
	RawValue int64
	Label    string
}

// SignalDescription is an immutable description of one signal within a
// message: where it lives, how wide it is, how its bits are formatted and
// scaled, and its multiplexor dependency.
type SignalDescription struct {
	Name             string
	DataSource       DataSource
	StartBit         int
	BitLength        int
	DataFormat       DataFormat
	DataEndian       DataEndian
	Factor           float64 // NaN = not applied; 0 normalised to NaN
	Offset           float64 // NaN = not applied
	Scaling          float64 // NaN = not applied; 0 normalised to NaN
	Minimum          float64 // NaN = no bound
	Maximum          float64 // NaN = no bound
	Unit             string
	Transmitter      string
	Receivers        []string
	Comment          string
	MultiplexState   MultiplexState
	MultiplexValue   int // the "m<N>" selector value, meaningful when MultiplexedSignal/SwitchAndSignal
	MultiplexSignals map[string][]Range
	ValueDescriptions []ValueDescription
}

// NewSignalDescription builds a SignalDescription normalising factor/scaling
// zero values to NaN per spec.
func NewSignalDescription(name string, source DataSource, startBit, bitLength int, format DataFormat, endian DataEndian) SignalDescription {
	return SignalDescription{
		Name:       name,
		DataSource: source,
		StartBit:   startBit,
		BitLength:  bitLength,
		DataFormat: format,
		DataEndian: endian,
		Factor:     math.NaN(),
		Offset:     math.NaN(),
		Scaling:    math.NaN(),
		Minimum:    math.NaN(),
		Maximum:    math.NaN(),
	}
}

// WithFactor sets factor, normalising 0 to NaN.
func (s SignalDescription) WithFactor(f float64) SignalDescription {
	if f == 0 {
		f = math.NaN()
	}
	s.Factor = f
	return s
}

// WithScaling sets scaling, normalising 0 to NaN.
func (s SignalDescription) WithScaling(v float64) SignalDescription {
	if v == 0 {
		v = math.NaN()
	}
	s.Scaling = v
	return s
}

// Valid reports whether the signal description satisfies its invariants.
func (s SignalDescription) Valid() error {
	if s.Name == "" {
		return fmt.Errorf("candesc: signal name must not be empty")
	}
	maxStart := 63
	if s.DataSource == SourceFrameId {
		maxStart = 28
	}
	if s.StartBit < 0 || s.StartBit > maxStart {
		return fmt.Errorf("candesc: signal %q startBit %d out of range 0..%d", s.Name, s.StartBit, maxStart)
	}
	if s.BitLength < 1 || s.BitLength > 64 {
		return fmt.Errorf("candesc: signal %q bitLength %d out of range 1..64", s.Name, s.BitLength)
	}
	switch s.DataFormat {
	case Float:
		if s.BitLength != 32 {
			return fmt.Errorf("candesc: signal %q Float requires bitLength=32", s.Name)
		}
	case Double:
		if s.BitLength != 64 {
			return fmt.Errorf("candesc: signal %q Double requires bitLength=64", s.Name)
		}
	case AsciiString:
		if s.BitLength%8 != 0 {
			return fmt.Errorf("candesc: signal %q AsciiString bitLength must be a multiple of 8", s.Name)
		}
	case SignedInteger, UnsignedInteger:
		// any width 1..64 accepted
	default:
		return fmt.Errorf("candesc: signal %q has unknown data format %v", s.Name, s.DataFormat)
	}
	return nil
}

func (s SignalDescription) codecEndian() bitcodec.Endian {
	if s.DataEndian == BigEndian {
		return bitcodec.Big
	}
	return bitcodec.Little
}

func (s SignalDescription) codecFormat() bitcodec.Format {
	switch s.DataFormat {
	case SignedInteger:
		return bitcodec.SignedInteger
	case UnsignedInteger:
		return bitcodec.UnsignedInteger
	case Float:
		return bitcodec.Float
	case Double:
		return bitcodec.Double
	case AsciiString:
		return bitcodec.AsciiString
	default:
		return bitcodec.UnsignedInteger
	}
}

// Selectable reports whether every switch this signal depends on has
// already produced a value (in results) that falls within one of the
// signal's declared ranges for that switch.
func (s SignalDescription) Selectable(results map[string]float64) bool {
	for switchName, ranges := range s.MultiplexSignals {
		v, ok := results[switchName]
		if !ok {
			return false
		}
		matched := false
		for _, r := range ranges {
			if r.Contains(v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
