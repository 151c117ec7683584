package dbc

import (
	"strings"
	"testing"

	"github.com/canline/corebus/internal/candesc"
)

func TestParseMinimalMessage(t *testing.T) {
	src := `VERSION ""

BS_:
BU_: ECU1 ECU2

BO_ 1234 Test: 2 Vector__XXX
 SG_ s0 : 0|8@1+ (1,0) [0|0] "u" Vector__XXX
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, ok := result.Messages[1234]
	if !ok {
		t.Fatalf("expected message 1234, got %+v", result.Messages)
	}
	if msg.Size != 2 {
		t.Fatalf("got size %d, want 2", msg.Size)
	}
	s, ok := msg.Signals["s0"]
	if !ok {
		t.Fatal("expected signal s0")
	}
	if s.StartBit != 0 || s.BitLength != 8 {
		t.Fatalf("got startBit=%d bitLength=%d", s.StartBit, s.BitLength)
	}
	if s.DataEndian != candesc.LittleEndian {
		t.Fatal("expected little endian signal")
	}
	if s.DataFormat != candesc.UnsignedInteger {
		t.Fatal("expected unsigned signal")
	}
}

func TestParseBigEndianSignedScaled(t *testing.T) {
	src := `BO_ 100 Temp: 2 ECU1
 SG_ temp : 7|12@0- (0.1,-40) [-40|125] "degC" ECU2
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := result.Messages[100].Signals["temp"]
	if s.DataEndian != candesc.BigEndian {
		t.Fatal("expected big endian")
	}
	if s.DataFormat != candesc.SignedInteger {
		t.Fatal("expected signed")
	}
	if s.Factor != 0.1 || s.Offset != -40 {
		t.Fatalf("got factor=%v offset=%v", s.Factor, s.Offset)
	}
	if s.Minimum != -40 || s.Maximum != 125 {
		t.Fatalf("got min=%v max=%v", s.Minimum, s.Maximum)
	}
}

func TestParseSimpleMultiplexing(t *testing.T) {
	src := `BO_ 66 Mux: 3 ECU1
 SG_ sw M : 0|2@1+ (1,0) [0|0] "" ECU2
 SG_ s1 m1 : 2|6@1+ (1,0) [0|0] "" ECU2
 SG_ s2 m2 : 2|6@1+ (1,0) [0|0] "" ECU2
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := result.Messages[66]
	sw := msg.Signals["sw"]
	if sw.MultiplexState != candesc.MultiplexorSwitch {
		t.Fatal("expected sw to be MultiplexorSwitch")
	}
	s1 := msg.Signals["s1"]
	if s1.MultiplexState != candesc.MultiplexedSignal {
		t.Fatal("expected s1 to be MultiplexedSignal")
	}
	ranges, ok := s1.MultiplexSignals["sw"]
	if !ok {
		t.Fatalf("expected s1 to depend on resolved switch name 'sw', got %+v", s1.MultiplexSignals)
	}
	if len(ranges) != 1 || ranges[0].Min != 1 || ranges[0].Max != 1 {
		t.Fatalf("unexpected ranges: %+v", ranges)
	}
}

func TestParseExtendedMultiplexing(t *testing.T) {
	src := `BO_ 77 ExtMux: 4 ECU1
 SG_ sw M : 0|4@1+ (1,0) [0|0] "" ECU2
 SG_ a m1 : 4|8@1+ (1,0) [0|0] "" ECU2
 SG_ b m1 : 12|8@1+ (1,0) [0|0] "" ECU2

SG_MUL_VAL_ 77 a sw 1-1;
SG_MUL_VAL_ 77 b sw 1-1, 2-2;
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, ok := result.Messages[77]
	if !ok {
		t.Fatalf("expected message 77 to survive, warnings: %v", result.Warnings)
	}
	b := msg.Signals["b"]
	ranges := b.MultiplexSignals["sw"]
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges for b, got %+v", ranges)
	}
}

func TestParseExtendedMultiplexingDropsIncompleteMessage(t *testing.T) {
	src := `BO_ 88 Incomplete: 4 ECU1
 SG_ sw M : 0|4@1+ (1,0) [0|0] "" ECU2
 SG_ a m1 : 4|8@1+ (1,0) [0|0] "" ECU2
 SG_ b m2 : 12|8@1+ (1,0) [0|0] "" ECU2

SG_MUL_VAL_ 88 a sw 1-1;
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Messages[88]; ok {
		t.Fatal("expected message 88 to be dropped: b has no SG_MUL_VAL_ override")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning explaining the drop")
	}
}

func TestParseValueDescriptions(t *testing.T) {
	src := `BO_ 1 Status: 1 ECU1
 SG_ state : 0|8@1+ (1,0) [0|0] "" ECU2

VAL_ 1 state 0 "Off" 1 "On" 2 "Fault";
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := result.Messages[1].Signals["state"]
	if len(s.ValueDescriptions) != 3 {
		t.Fatalf("got %d value descriptions, want 3", len(s.ValueDescriptions))
	}
	if s.ValueDescriptions[0].RawValue != 0 || s.ValueDescriptions[0].Label != "Off" {
		t.Fatalf("unexpected first value description: %+v", s.ValueDescriptions[0])
	}
}

func TestParseSigValTypeOverride(t *testing.T) {
	src := `BO_ 5 FloatMsg: 4 ECU1
 SG_ f : 0|32@1+ (1,0) [0|0] "" ECU2

SIG_VALTYPE_ 5 f : 1;
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := result.Messages[5].Signals["f"]
	if s.DataFormat != candesc.Float {
		t.Fatalf("expected Float override, got %v", s.DataFormat)
	}
}

func TestParseComments(t *testing.T) {
	src := `BO_ 9 Commented: 1 ECU1
 SG_ s0 : 0|8@1+ (1,0) [0|0] "" ECU2

CM_ BO_ 9 "a message comment";
CM_ SG_ 9 s0 "a signal comment";
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := result.Messages[9]
	if msg.Comment != "a message comment" {
		t.Fatalf("got %q", msg.Comment)
	}
	if msg.Signals["s0"].Comment != "a signal comment" {
		t.Fatalf("got %q", msg.Signals["s0"].Comment)
	}
}

func TestParseMalformedSignalWarnsAndContinues(t *testing.T) {
	src := `BO_ 10 M: 1 ECU1
 SG_ broken not a real record
 SG_ s0 : 0|8@1+ (1,0) [0|0] "" ECU2
`
	result, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for the malformed SG_ record")
	}
	if _, ok := result.Messages[10].Signals["s0"]; !ok {
		t.Fatal("expected s0 to still parse after the malformed record")
	}
}

func TestParseRejectsBOAfterExtraData(t *testing.T) {
	src := `BO_ 1 A: 1 ECU1
 SG_ s0 : 0|8@1+ (1,0) [0|0] "" ECU2

CM_ BO_ 1 "comment";

BO_ 2 B: 1 ECU1
 SG_ s1 : 0|8@1+ (1,0) [0|0] "" ECU2
`
	_, err := Parse(strings.NewReader(src))
	if err == nil {
		t.Fatal("expected a file-level error for BO_ after extra-data records")
	}
	derr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if derr.Code != Parsing {
		t.Fatalf("got code %v, want Parsing", derr.Code)
	}
}

func TestParseRejectsSGAfterExtraData(t *testing.T) {
	src := `BO_ 1 A: 2 ECU1
 SG_ s0 : 0|8@1+ (1,0) [0|0] "" ECU2

VAL_ 1 s0 0 "zero";

 SG_ s1 : 8|8@1+ (1,0) [0|0] "" ECU2
`
	_, err := Parse(strings.NewReader(src))
	if err == nil {
		t.Fatal("expected a file-level error for SG_ after extra-data records")
	}
}

func TestUniqueIdDescriptionMatchesDbcDefault(t *testing.T) {
	u := UniqueIdDescription()
	if u.BitLength != 29 || u.Source != candesc.SourceFrameId {
		t.Fatalf("unexpected default uniqueId description: %+v", u)
	}
}
