package canframe

import (
	"testing"

	"github.com/canline/corebus/internal/candesc"
)

func buildMultiplexedMessage() candesc.MessageDescription {
	m := candesc.NewMessageDescription(0x42, "Mux", 3)

	s0 := candesc.NewSignalDescription("s0", candesc.SourcePayload, 0, 2, candesc.UnsignedInteger, candesc.LittleEndian)
	s0.MultiplexState = candesc.MultiplexorSwitch
	m.AddSignal(s0)

	s1 := candesc.NewSignalDescription("s1", candesc.SourcePayload, 2, 6, candesc.UnsignedInteger, candesc.LittleEndian)
	s1.MultiplexState = candesc.MultiplexedSignal
	s1.MultiplexSignals = map[string][]candesc.Range{"s0": {{Min: 1, Max: 1}}}
	m.AddSignal(s1)

	s2 := candesc.NewSignalDescription("s2", candesc.SourcePayload, 2, 6, candesc.UnsignedInteger, candesc.LittleEndian)
	s2.MultiplexState = candesc.MultiplexedSignal
	s2.MultiplexSignals = map[string][]candesc.Range{"s0": {{Min: 2, Max: 2}}}
	m.AddSignal(s2)

	return m
}

func newMultiplexedProcessor() *Processor {
	m := buildMultiplexedMessage()
	return NewProcessor(candesc.DbcUniqueIdDescription(), map[uint32]candesc.MessageDescription{0x42: m})
}

func TestParseMultiplexedSelectsS1(t *testing.T) {
	p := newMultiplexedProcessor()
	frame := candesc.CanFrame{FrameId: 0x42, FrameType: candesc.Data, Payload: []byte{0x29, 0x00, 0x00}}
	result, err := p.Parse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UniqueId != 0x42 {
		t.Fatalf("got uniqueId 0x%X, want 0x42", result.UniqueId)
	}
	if v := result.SignalMap["s0"]; v != uint64(1) {
		t.Fatalf("s0 = %v, want 1", v)
	}
	if v := result.SignalMap["s1"]; v != uint64(10) {
		t.Fatalf("s1 = %v, want 10", v)
	}
	if _, present := result.SignalMap["s2"]; present {
		t.Fatal("s2 should not be present when s0=1")
	}
}

func TestParseMultiplexedSelectsS2(t *testing.T) {
	p := newMultiplexedProcessor()
	frame := candesc.CanFrame{FrameId: 0x42, FrameType: candesc.Data, Payload: []byte{0x2E, 0x00, 0x00}}
	result, err := p.Parse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := result.SignalMap["s0"]; v != uint64(2) {
		t.Fatalf("s0 = %v, want 2", v)
	}
	if v := result.SignalMap["s2"]; v != uint64(11) {
		t.Fatalf("s2 = %v, want 11", v)
	}
	if _, present := result.SignalMap["s1"]; present {
		t.Fatal("s1 should not be present when s0=2")
	}
}

func TestParseRejectsNonDataFrame(t *testing.T) {
	p := newMultiplexedProcessor()
	frame := candesc.CanFrame{FrameId: 0x42, FrameType: candesc.RemoteRequest}
	if _, err := p.Parse(frame); err == nil {
		t.Fatal("expected UnsupportedFrameFormat error")
	} else if ce, ok := err.(*candesc.Error); !ok || ce.Code != candesc.UnsupportedFrameFormat {
		t.Fatalf("expected UnsupportedFrameFormat, got %v", err)
	}
}

func TestParseUnknownMessageFails(t *testing.T) {
	p := newMultiplexedProcessor()
	frame := candesc.CanFrame{FrameId: 0x999, FrameType: candesc.Data, Payload: []byte{0, 0, 0}}
	if _, err := p.Parse(frame); err == nil {
		t.Fatal("expected Decoding error for unknown message")
	}
}

func TestParseSizeMismatchFails(t *testing.T) {
	p := newMultiplexedProcessor()
	frame := candesc.CanFrame{FrameId: 0x42, FrameType: candesc.Data, Payload: []byte{0, 0}}
	if _, err := p.Parse(frame); err == nil {
		t.Fatal("expected Decoding error for payload size mismatch")
	}
}

func TestBuildThenParseRoundTrip(t *testing.T) {
	p := newMultiplexedProcessor()
	values := map[string]interface{}{"s0": uint64(1), "s1": uint64(10)}
	frame, err := p.Build(0x42, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.FrameId != 0x42 {
		t.Fatalf("got frameId 0x%X, want 0x42", frame.FrameId)
	}

	decoded, err := p.Parse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.UniqueId != 0x42 {
		t.Fatalf("got uniqueId 0x%X, want 0x42", decoded.UniqueId)
	}
	if decoded.SignalMap["s0"] != uint64(1) || decoded.SignalMap["s1"] != uint64(10) {
		t.Fatalf("round-trip mismatch: %+v", decoded.SignalMap)
	}
}

func TestBuildSkipsUnsatisfiedMultiplexedSignal(t *testing.T) {
	p := newMultiplexedProcessor()
	// s2 requires s0=2, but caller asks for s0=1 and supplies s2 anyway.
	values := map[string]interface{}{"s0": uint64(1), "s2": uint64(99)}
	frame, err := p.Build(0x42, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Warnings()) == 0 {
		t.Fatal("expected a warning for the skipped multiplexed signal")
	}
	decoded, err := p.Parse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := decoded.SignalMap["s2"]; present {
		t.Fatal("s2 should not have been encoded")
	}
}

func TestBuildUnknownMessageFails(t *testing.T) {
	p := newMultiplexedProcessor()
	if _, err := p.Build(0xDEAD, map[string]interface{}{}); err == nil {
		t.Fatal("expected Encoding error for unknown message")
	}
}

func TestBuildWarnsOnUnknownSignal(t *testing.T) {
	p := newMultiplexedProcessor()
	_, err := p.Build(0x42, map[string]interface{}{"s0": uint64(1), "bogus": uint64(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range p.Warnings() {
		if w != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a warning for the unknown signal")
	}
}

func TestScaledSignalRoundTrip(t *testing.T) {
	m := candesc.NewMessageDescription(0x10, "Scaled", 2)
	s := candesc.NewSignalDescription("temp", candesc.SourcePayload, 0, 16, candesc.UnsignedInteger, candesc.LittleEndian).WithFactor(0.1)
	s.Offset = -40
	m.AddSignal(s)
	p := NewProcessor(candesc.DbcUniqueIdDescription(), map[uint32]candesc.MessageDescription{0x10: m})

	frame, err := p.Build(0x10, map[string]interface{}{"temp": 22.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := p.Parse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decoded.SignalMap["temp"].(float64)
	if diff := got - 22.5; diff > 0.01 || diff < -0.01 {
		t.Fatalf("got %v, want ~22.5", got)
	}
}
