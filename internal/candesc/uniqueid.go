package candesc

import (
	"fmt"

	"github.com/canline/corebus/internal/bitcodec"
)

// UniqueIdDescription locates the message identifier field within a
// frame: either the frame's own ID field, or a bit range inside the
// payload.
type UniqueIdDescription struct {
	Source    DataSource
	StartBit  int
	BitLength int
	Endian    DataEndian
}

// DbcUniqueIdDescription is the fixed description DBC files use: the
// 29-bit frame identifier, little-endian, starting at bit 0.
func DbcUniqueIdDescription() UniqueIdDescription {
	return UniqueIdDescription{
		Source:    SourceFrameId,
		StartBit:  0,
		BitLength: 29,
		Endian:    LittleEndian,
	}
}

// Valid reports whether the description can address a field.
func (u UniqueIdDescription) Valid() bool {
	return u.BitLength > 0 && u.BitLength <= 32
}

func (u UniqueIdDescription) codecEndian() bitcodec.Endian {
	if u.Endian == BigEndian {
		return bitcodec.Big
	}
	return bitcodec.Little
}

// Extract reads the unique ID out of frameId/payload per this description.
func (u UniqueIdDescription) Extract(frameId uint32, payload []byte) (uint32, error) {
	if !u.Valid() {
		return 0, fmt.Errorf("candesc: invalid UniqueIdDescription")
	}
	switch u.Source {
	case SourceFrameId:
		buf := make([]byte, 4)
		buf[0] = byte(frameId)
		buf[1] = byte(frameId >> 8)
		buf[2] = byte(frameId >> 16)
		buf[3] = byte(frameId >> 24)
		v, err := bitcodec.Extract(buf, u.StartBit, u.BitLength, u.codecEndian(), bitcodec.UnsignedInteger)
		if err != nil {
			return 0, err
		}
		return uint32(v.(uint64)), nil
	case SourcePayload:
		v, err := bitcodec.Extract(payload, u.StartBit, u.BitLength, u.codecEndian(), bitcodec.UnsignedInteger)
		if err != nil {
			return 0, err
		}
		return uint32(v.(uint64)), nil
	default:
		return 0, fmt.Errorf("candesc: unknown UniqueIdDescription source %v", u.Source)
	}
}

// Insert writes uniqueId into frameId/payload per this description. It
// returns the (possibly unchanged) frameId and mutates payload in place
// when Source is SourcePayload.
func (u UniqueIdDescription) Insert(uniqueId uint32, frameId *uint32, payload []byte) error {
	if !u.Valid() {
		return fmt.Errorf("candesc: invalid UniqueIdDescription")
	}
	switch u.Source {
	case SourceFrameId:
		buf := make([]byte, 4)
		if err := bitcodec.Insert(buf, u.StartBit, u.BitLength, u.codecEndian(), bitcodec.UnsignedInteger, uint64(uniqueId)); err != nil {
			return err
		}
		*frameId = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		return nil
	case SourcePayload:
		return bitcodec.Insert(payload, u.StartBit, u.BitLength, u.codecEndian(), bitcodec.UnsignedInteger, uint64(uniqueId))
	default:
		return fmt.Errorf("candesc: unknown UniqueIdDescription source %v", u.Source)
	}
}
