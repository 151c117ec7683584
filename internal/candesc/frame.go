package candesc

import "fmt"

// FrameType classifies a CanFrame the way the source bus abstraction does.
type FrameType int

const (
	Data FrameType = iota
	ErrorFrame
	RemoteRequest
	InvalidFrameType
)

// Timestamp is a (seconds, microseconds) pair attached to a received frame.
type Timestamp struct {
	Seconds      int64
	Microseconds int32
}

const (
	maxStandardId = 0x7FF
	maxExtendedId = 0x1FFFFFFF

	// Bit layout for PackedID, mirroring the SocketCAN can_id convention:
	// bit 31 = error frame, bit 30 = remote request, bit 29 = extended
	// format, bits 28..0 = the identifier.
	packedErrFlag = 0x80000000
	packedRtrFlag = 0x40000000
	packedEffFlag = 0x20000000
	packedIdMask  = 0x1FFFFFFF
)

// validDataLengths enumerates payload lengths a CAN/CAN-FD frame may carry.
var validDataLengths = map[int]bool{
	0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true,
	12: true, 16: true, 20: true, 24: true, 32: true, 48: true, 64: true,
}

// CanFrame is a single classical or flexible-data-rate CAN frame as
// produced or consumed by a transport.
type CanFrame struct {
	FrameId        uint32
	ExtendedFormat bool
	FrameType      FrameType
	Payload        []byte
	Timestamp      Timestamp

	FlexibleDataRate  bool
	BitrateSwitch     bool
	ErrorStateIndicator bool
	LocalEcho         bool
}

// Validate checks the structural invariants of a CanFrame.
func (f CanFrame) Validate() error {
	if !f.ExtendedFormat && f.FrameId > maxStandardId {
		return fmt.Errorf("candesc: frameId 0x%X exceeds standard 11-bit range without ExtendedFormat", f.FrameId)
	}
	if f.FrameId > maxExtendedId {
		return fmt.Errorf("candesc: frameId 0x%X exceeds 29-bit range", f.FrameId)
	}
	if !validDataLengths[len(f.Payload)] {
		return fmt.Errorf("candesc: payload length %d is not a valid CAN(-FD) data length", len(f.Payload))
	}
	if len(f.Payload) > 8 && !f.FlexibleDataRate {
		return fmt.Errorf("candesc: payload length %d requires FlexibleDataRate", len(f.Payload))
	}
	if f.FrameType == RemoteRequest && len(f.Payload) != 0 {
		return fmt.Errorf("candesc: RemoteRequest frames must carry no payload")
	}
	return nil
}

// PackedID returns the 29-bit identifier plus EFF/RTR/ERR flags packed
// into a single u32, in the SocketCAN can_id convention (documented in
// SPEC_FULL.md §3), for transports that want that wire shape.
func (f CanFrame) PackedID() uint32 {
	id := f.FrameId & packedIdMask
	if f.ExtendedFormat {
		id |= packedEffFlag
	}
	if f.FrameType == RemoteRequest {
		id |= packedRtrFlag
	}
	if f.FrameType == ErrorFrame {
		id |= packedErrFlag
	}
	return id
}

// FromPackedID populates FrameId/ExtendedFormat/FrameType from a packed
// u32 produced by PackedID.
func FromPackedID(packed uint32) (frameId uint32, extended bool, frameType FrameType) {
	extended = packed&packedEffFlag != 0
	switch {
	case packed&packedErrFlag != 0:
		frameType = ErrorFrame
	case packed&packedRtrFlag != 0:
		frameType = RemoteRequest
	default:
		frameType = Data
	}
	frameId = packed & packedIdMask
	if !extended {
		frameId &= maxStandardId
	}
	return frameId, extended, frameType
}
