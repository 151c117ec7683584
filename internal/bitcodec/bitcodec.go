// Package bitcodec implements bit-granular read/write of integer, float
// and string values inside a byte buffer, at arbitrary (non-byte-aligned)
// bit offsets, with independent little-endian and DBC-style big-endian
// bit orderings.
package bitcodec

import (
	"fmt"
	"math"
)

// Endian selects the bit-numbering convention used to locate a field.
type Endian int

const (
	Little Endian = iota
	Big
)

// Format selects how the extracted bits are interpreted.
type Format int

const (
	SignedInteger Format = iota
	UnsignedInteger
	Float
	Double
	AsciiString
)

// MaxBits is the widest field this codec supports in one call.
const MaxBits = 64

// Extract reads bitLength bits starting at startBit from buffer and
// interprets them per endian/format. For AsciiString, the return value is
// a []byte; for Float/Double, a float64 (holding the native float32 value
// unmodified for Float); otherwise an int64 (SignedInteger, sign-extended)
// or uint64 (UnsignedInteger).
func Extract(buffer []byte, startBit, bitLength int, endian Endian, format Format) (interface{}, error) {
	if err := validate(buffer, startBit, bitLength, format); err != nil {
		return nil, err
	}

	if format == AsciiString {
		return extractAscii(buffer, startBit, bitLength)
	}

	raw, err := extractRaw(buffer, startBit, bitLength, endian)
	if err != nil {
		return nil, err
	}

	switch format {
	case SignedInteger:
		return signExtend(raw, bitLength), nil
	case UnsignedInteger:
		return raw, nil
	case Float:
		return float64(math.Float32frombits(uint32(raw))), nil
	case Double:
		return math.Float64frombits(raw), nil
	default:
		return nil, fmt.Errorf("bitcodec: unknown format %v", format)
	}
}

// Insert writes value into buffer at startBit..startBit+bitLength-1 per
// endian/format, clearing the target bits first and leaving all other
// bits untouched. value must be int64/uint64 (integer formats), float64
// (Float/Double) or []byte (AsciiString).
func Insert(buffer []byte, startBit, bitLength int, endian Endian, format Format, value interface{}) error {
	if err := validate(buffer, startBit, bitLength, format); err != nil {
		return err
	}

	if format == AsciiString {
		data, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("bitcodec: AsciiString insert requires []byte, got %T", value)
		}
		return insertAscii(buffer, startBit, bitLength, data)
	}

	raw, err := toRawBits(value, format, bitLength)
	if err != nil {
		return err
	}

	return insertRaw(buffer, startBit, bitLength, endian, raw)
}

func validate(buffer []byte, startBit, bitLength int, format Format) error {
	if bitLength <= 0 || bitLength > MaxBits {
		return fmt.Errorf("bitcodec: bitLength %d out of range 1..%d", bitLength, MaxBits)
	}
	if startBit < 0 {
		return fmt.Errorf("bitcodec: negative startBit %d", startBit)
	}
	switch format {
	case Float:
		if bitLength != 32 {
			return fmt.Errorf("bitcodec: Float requires bitLength=32, got %d", bitLength)
		}
	case Double:
		if bitLength != 64 {
			return fmt.Errorf("bitcodec: Double requires bitLength=64, got %d", bitLength)
		}
	case AsciiString:
		if bitLength%8 != 0 {
			return fmt.Errorf("bitcodec: AsciiString bitLength must be a multiple of 8, got %d", bitLength)
		}
	}
	if len(buffer)*8 < 0 {
		return fmt.Errorf("bitcodec: invalid buffer")
	}
	return nil
}

func toRawBits(value interface{}, format Format, bitLength int) (uint64, error) {
	switch format {
	case SignedInteger:
		v, err := asInt64(value)
		if err != nil {
			return 0, err
		}
		mask := uint64(1)<<uint(bitLength) - 1
		if bitLength == 64 {
			mask = math.MaxUint64
		}
		return uint64(v) & mask, nil
	case UnsignedInteger:
		v, err := asUint64(value)
		if err != nil {
			return 0, err
		}
		mask := uint64(1)<<uint(bitLength) - 1
		if bitLength == 64 {
			mask = math.MaxUint64
		}
		return v & mask, nil
	case Float:
		v, ok := value.(float64)
		if !ok {
			return 0, fmt.Errorf("bitcodec: Float insert requires float64, got %T", value)
		}
		return uint64(math.Float32bits(float32(v))), nil
	case Double:
		v, ok := value.(float64)
		if !ok {
			return 0, fmt.Errorf("bitcodec: Double insert requires float64, got %T", value)
		}
		return math.Float64bits(v), nil
	default:
		return 0, fmt.Errorf("bitcodec: unknown format %v", format)
	}
}

func asInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("bitcodec: expected signed integer, got %T", value)
	}
}

func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("bitcodec: expected unsigned integer, got %T", value)
	}
}

func signExtend(raw uint64, bitLength int) int64 {
	if bitLength >= 64 {
		return int64(raw)
	}
	signBit := uint64(1) << uint(bitLength-1)
	if raw&signBit != 0 {
		return int64(raw | (^uint64(0) << uint(bitLength)))
	}
	return int64(raw)
}

// extractRaw reads bitLength bits as an unsigned value, honouring endian.
func extractRaw(buffer []byte, startBit, bitLength int, endian Endian) (uint64, error) {
	var raw uint64
	positions, err := bitPositions(len(buffer), startBit, bitLength, endian)
	if err != nil {
		return 0, err
	}
	for i, pos := range positions {
		byteIdx := pos / 8
		bitIdx := uint(pos % 8)
		bit := (buffer[byteIdx] >> bitIdx) & 1
		raw |= uint64(bit) << uint(i)
	}
	return raw, nil
}

func insertRaw(buffer []byte, startBit, bitLength int, endian Endian, raw uint64) error {
	positions, err := bitPositions(len(buffer), startBit, bitLength, endian)
	if err != nil {
		return err
	}
	for i, pos := range positions {
		byteIdx := pos / 8
		bitIdx := uint(pos % 8)
		bit := (raw >> uint(i)) & 1
		buffer[byteIdx] &^= 1 << bitIdx
		buffer[byteIdx] |= byte(bit) << bitIdx
	}
	return nil
}

// bitPositions returns, in little-endian-significance order (index 0 is
// the least significant bit of the field), the absolute bit position
// (0 = LSB of byte 0) that each field bit occupies in buffer.
func bitPositions(bufLen, startBit, bitLength int, endian Endian) ([]int, error) {
	positions := make([]int, bitLength)
	totalBits := bufLen * 8

	switch endian {
	case Little:
		for i := 0; i < bitLength; i++ {
			p := startBit + i
			if p >= totalBits {
				return nil, fmt.Errorf("bitcodec: field exceeds buffer bounds (bit %d of %d)", p, totalBits)
			}
			positions[i] = p
		}
	case Big:
		p := startBit
		for i := bitLength - 1; i >= 0; i-- {
			if p >= totalBits || p < 0 {
				return nil, fmt.Errorf("bitcodec: field exceeds buffer bounds (bit %d of %d)", p, totalBits)
			}
			positions[i] = p
			if p%8 != 0 {
				p--
			} else {
				p += 15
			}
		}
	default:
		return nil, fmt.Errorf("bitcodec: unknown endian %v", endian)
	}
	return positions, nil
}

func extractAscii(buffer []byte, startBit, bitLength int) ([]byte, error) {
	if startBit%8 != 0 {
		return nil, fmt.Errorf("bitcodec: AsciiString requires byte-aligned startBit, got %d", startBit)
	}
	byteStart := startBit / 8
	byteLen := bitLength / 8
	if byteStart+byteLen > len(buffer) {
		return nil, fmt.Errorf("bitcodec: AsciiString field exceeds buffer bounds")
	}
	out := make([]byte, byteLen)
	copy(out, buffer[byteStart:byteStart+byteLen])
	return out, nil
}

func insertAscii(buffer []byte, startBit, bitLength int, data []byte) error {
	if startBit%8 != 0 {
		return fmt.Errorf("bitcodec: AsciiString requires byte-aligned startBit, got %d", startBit)
	}
	byteStart := startBit / 8
	byteLen := bitLength / 8
	if byteStart+byteLen > len(buffer) {
		return fmt.Errorf("bitcodec: AsciiString field exceeds buffer bounds")
	}
	for i := 0; i < byteLen; i++ {
		if i < len(data) {
			buffer[byteStart+i] = data[i]
		} else {
			buffer[byteStart+i] = 0
		}
	}
	return nil
}
