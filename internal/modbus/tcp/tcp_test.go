package tcp

import (
	"testing"

	"github.com/canline/corebus/internal/modbus/pdu"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame := Encode(ADU{TransactionID: 42, UnitID: 1, PDU: req})

	a := NewAssembler(nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 1 {
		t.Fatalf("got %d ADUs, want 1", len(adus))
	}
	if adus[0].TransactionID != 42 || adus[0].UnitID != 1 {
		t.Fatalf("unexpected header: %+v", adus[0])
	}
	if adus[0].PDU.FunctionCode != pdu.ReadHoldingRegisters {
		t.Fatalf("unexpected function code: 0x%02X", adus[0].PDU.FunctionCode)
	}
}

func TestAssemblerWaitsForFullHeader(t *testing.T) {
	req, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 4)
	frame := Encode(ADU{TransactionID: 1, UnitID: 1, PDU: req})

	a := NewAssembler(nil, nil)
	if adus := a.Feed(frame[:5]); len(adus) != 0 {
		t.Fatal("expected no ADU before the header completes")
	}
	if adus := a.Feed(frame[5:]); len(adus) != 1 {
		t.Fatalf("expected 1 ADU once the rest arrives, got %d", len(adus))
	}
}

func TestAssemblerWaitsForFullPDU(t *testing.T) {
	req, _ := pdu.EncodeReadRegistersRequest(pdu.ReadHoldingRegisters, 0, 4)
	frame := Encode(ADU{TransactionID: 1, UnitID: 1, PDU: req})

	a := NewAssembler(nil, nil)
	if adus := a.Feed(frame[:headerLen+1]); len(adus) != 0 {
		t.Fatal("expected no ADU before the PDU completes")
	}
	if adus := a.Feed(frame[headerLen+1:]); len(adus) != 1 {
		t.Fatalf("expected 1 ADU once the PDU completes, got %d", len(adus))
	}
}

func TestUnknownTransactionIsDiscarded(t *testing.T) {
	resp, err := pdu.EncodeReadRegistersResponse(pdu.ReadHoldingRegisters, []uint16{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame := Encode(ADU{TransactionID: 99, UnitID: 1, PDU: resp})

	known := func(id uint16) bool { return id == 1 }
	a := NewAssembler(known, nil)
	if adus := a.Feed(frame); len(adus) != 0 {
		t.Fatal("expected unknown transactionId to be discarded")
	}
}

func TestTransactionCounterWraps(t *testing.T) {
	c := &TransactionCounter{next: 65535}
	if id := c.Next(); id != 65535 {
		t.Fatalf("got %d, want 65535", id)
	}
	if id := c.Next(); id != 0 {
		t.Fatalf("got %d, want 0 after wrap", id)
	}
}

func TestOutOfOrderTransactionMatching(t *testing.T) {
	resp1, _ := pdu.EncodeReadRegistersResponse(pdu.ReadHoldingRegisters, []uint16{1})
	resp2, _ := pdu.EncodeReadRegistersResponse(pdu.ReadHoldingRegisters, []uint16{2})
	frame := append(Encode(ADU{TransactionID: 5, UnitID: 1, PDU: resp2}), Encode(ADU{TransactionID: 3, UnitID: 1, PDU: resp1})...)

	a := NewAssembler(nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 2 {
		t.Fatalf("got %d ADUs, want 2", len(adus))
	}
	if adus[0].TransactionID != 5 || adus[1].TransactionID != 3 {
		t.Fatalf("expected transactions matched by id not arrival order within the slice, got %+v", adus)
	}
}
