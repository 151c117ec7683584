package candesc

import (
	"math"
	"testing"
)

func TestSignalDescriptionValidation(t *testing.T) {
	s := NewSignalDescription("s0", SourcePayload, 0, 8, UnsignedInteger, LittleEndian)
	if err := s.Valid(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	bad := s
	bad.Name = ""
	if err := bad.Valid(); err == nil {
		t.Fatal("expected error for empty name")
	}

	floatBad := NewSignalDescription("f", SourcePayload, 0, 16, Float, LittleEndian)
	if err := floatBad.Valid(); err == nil {
		t.Fatal("expected error for Float with wrong bitLength")
	}
}

func TestMessageDescriptionValidation(t *testing.T) {
	m := NewMessageDescription(0x123, "Test", 2)
	if err := m.Valid(); err == nil {
		t.Fatal("expected error for message with no signals")
	}
	m.AddSignal(NewSignalDescription("s0", SourcePayload, 0, 8, UnsignedInteger, LittleEndian))
	if err := m.Valid(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestUniqueIdDescriptionFrameId(t *testing.T) {
	u := DbcUniqueIdDescription()
	id, err := u.Extract(1234, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1234 {
		t.Fatalf("got %d, want 1234", id)
	}

	var frameId uint32
	if err := u.Insert(1234, &frameId, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameId != 1234 {
		t.Fatalf("got %d, want 1234", frameId)
	}
}

func TestSelectable(t *testing.T) {
	s := NewSignalDescription("s1", SourcePayload, 2, 6, UnsignedInteger, LittleEndian)
	s.MultiplexState = MultiplexedSignal
	s.MultiplexSignals = map[string][]Range{
		"s0": {{Min: 1, Max: 1}},
	}

	if s.Selectable(map[string]float64{}) {
		t.Fatal("expected not selectable without switch value")
	}
	if s.Selectable(map[string]float64{"s0": 2}) {
		t.Fatal("expected not selectable outside range")
	}
	if !s.Selectable(map[string]float64{"s0": 1}) {
		t.Fatal("expected selectable inside range")
	}
}

func TestCanFrameValidate(t *testing.T) {
	f := CanFrame{FrameId: 0x1FFFFFFF, ExtendedFormat: true, FrameType: Data, Payload: make([]byte, 8)}
	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := CanFrame{FrameId: 0x800, ExtendedFormat: false, FrameType: Data, Payload: make([]byte, 8)}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error: standard id too large")
	}

	badLen := CanFrame{FrameId: 1, Payload: make([]byte, 9)}
	if err := badLen.Validate(); err == nil {
		t.Fatal("expected error: invalid payload length")
	}

	fdMissingFlag := CanFrame{FrameId: 1, Payload: make([]byte, 16)}
	if err := fdMissingFlag.Validate(); err == nil {
		t.Fatal("expected error: FD payload without FlexibleDataRate flag")
	}
}

func TestPackedIDRoundTrip(t *testing.T) {
	f := CanFrame{FrameId: 0x1ABCDEF, ExtendedFormat: true, FrameType: RemoteRequest}
	packed := f.PackedID()
	id, extended, frameType := FromPackedID(packed)
	if id != f.FrameId || extended != f.ExtendedFormat || frameType != f.FrameType {
		t.Fatalf("round trip mismatch: id=0x%X extended=%v type=%v", id, extended, frameType)
	}
}

func TestToPhysicalAndToRaw(t *testing.T) {
	s := NewSignalDescription("s", SourcePayload, 0, 8, UnsignedInteger, LittleEndian)
	s = s.WithFactor(0.5)
	s.Offset = 10

	physical := ToPhysical(20, s)
	if physical != 20*0.5+10 {
		t.Fatalf("got %v, want %v", physical, 20*0.5+10)
	}

	raw := ToRaw(physical, s)
	if math.Abs(raw-20) > 1e-9 {
		t.Fatalf("got %v, want 20", raw)
	}
}

func TestFactorZeroNormalisedToNaN(t *testing.T) {
	s := NewSignalDescription("s", SourcePayload, 0, 8, UnsignedInteger, LittleEndian).WithFactor(0)
	if !math.IsNaN(s.Factor) {
		t.Fatal("expected factor 0 to normalise to NaN")
	}
}
