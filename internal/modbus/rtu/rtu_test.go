package rtu

import (
	"testing"

	"github.com/canline/corebus/internal/modbus/pdu"
)

func TestCRC16KnownVector(t *testing.T) {
	got := CRC16([]byte{0x01, 0x04, 0x02, 0xFF, 0xFF})
	if got != 0x80B8 {
		t.Fatalf("got 0x%04X, want 0x80B8", got)
	}
}

func TestEncodeDecodeReadHoldingRegistersRequest(t *testing.T) {
	req, err := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame := Encode(ADU{Address: 1, PDU: req})

	a := NewAssembler(RoleServer, nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 1 {
		t.Fatalf("got %d ADUs, want 1", len(adus))
	}
	if adus[0].Address != 1 || adus[0].PDU.FunctionCode != pdu.ReadHoldingRegisters {
		t.Fatalf("unexpected ADU: %+v", adus[0])
	}
}

func TestAssemblerWaitsForMoreBytes(t *testing.T) {
	req, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 2)
	frame := Encode(ADU{Address: 1, PDU: req})

	a := NewAssembler(RoleServer, nil, nil)
	adus := a.Feed(frame[:3])
	if len(adus) != 0 {
		t.Fatalf("expected no complete ADUs yet, got %d", len(adus))
	}
	adus = a.Feed(frame[3:])
	if len(adus) != 1 {
		t.Fatalf("expected 1 ADU after remaining bytes arrive, got %d", len(adus))
	}
}

func TestAssemblerDiscardsBadCRC(t *testing.T) {
	req, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 2)
	frame := Encode(ADU{Address: 1, PDU: req})
	frame[len(frame)-1] ^= 0xFF // corrupt CRC

	var warned bool
	a := NewAssembler(RoleServer, nil, func(string, ...interface{}) { warned = true })
	adus := a.Feed(frame)
	if len(adus) != 0 {
		t.Fatal("expected corrupted frame to be discarded")
	}
	if !warned {
		t.Fatal("expected a CRC-mismatch warning")
	}
}

func TestAssemblerFiltersAddress(t *testing.T) {
	req, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 2)
	frame := Encode(ADU{Address: 9, PDU: req})

	filter := uint8(1)
	a := NewAssembler(RoleServer, &filter, nil)
	adus := a.Feed(frame)
	if len(adus) != 0 {
		t.Fatal("expected address-mismatched ADU to be discarded")
	}
}

func TestAssemblerAcceptsBroadcast(t *testing.T) {
	req, _ := pdu.EncodeWriteMultipleRegistersRequest(0, []uint16{1})
	frame := Encode(ADU{Address: BroadcastAddress, PDU: req})

	filter := uint8(1)
	a := NewAssembler(RoleServer, &filter, nil)
	adus := a.Feed(frame)
	if len(adus) != 1 {
		t.Fatal("expected broadcast ADU to pass the address filter")
	}
}

func TestAssemblerClientRoleParsesReadResponse(t *testing.T) {
	resp, err := pdu.EncodeReadRegistersResponse(pdu.ReadHoldingRegisters, []uint16{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame := Encode(ADU{Address: 1, PDU: resp})

	a := NewAssembler(RoleClient, nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 1 {
		t.Fatalf("got %d ADUs, want 1", len(adus))
	}
	values, err := pdu.DecodeReadRegistersResponse(adus[0].PDU)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 3 || values[1] != 2 {
		t.Fatalf("unexpected values: %+v", values)
	}
}

func TestAssemblerClientRoleParsesFifoResponse(t *testing.T) {
	resp, err := pdu.EncodeReadFifoQueueResponse([]uint16{10, 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame := Encode(ADU{Address: 1, PDU: resp})

	a := NewAssembler(RoleClient, nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 1 {
		t.Fatalf("got %d ADUs, want 1", len(adus))
	}
	values, err := pdu.DecodeReadFifoQueueResponse(adus[0].PDU)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 2 || values[0] != 10 {
		t.Fatalf("unexpected values: %+v", values)
	}
}

func TestAssemblerParsesTwoFramesBackToBack(t *testing.T) {
	req1, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 1)
	req2, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 5, 2)
	frame := append(Encode(ADU{Address: 1, PDU: req1}), Encode(ADU{Address: 1, PDU: req2})...)

	a := NewAssembler(RoleServer, nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 2 {
		t.Fatalf("got %d ADUs, want 2", len(adus))
	}
}
