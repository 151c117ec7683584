package pdu

import "testing"

func TestReadBitsRoundTrip(t *testing.T) {
	req, err := EncodeReadBitsRequest(ReadCoils, 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, count, err := DecodeReadBitsRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 10 || count != 5 {
		t.Fatalf("got start=%d count=%d", start, count)
	}

	bits := []bool{true, false, true, true, false}
	resp, err := EncodeReadBitsResponse(ReadCoils, bits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeReadBitsResponse(resp, len(bits))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range bits {
		if got[i] != bits[i] {
			t.Fatalf("bit %d mismatch: got %v want %v", i, got[i], bits[i])
		}
	}
}

func TestReadBitsQuantityBounds(t *testing.T) {
	if _, err := EncodeReadBitsRequest(ReadCoils, 0, 0); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := EncodeReadBitsRequest(ReadCoils, 0, MaxReadCoils+1); err == nil {
		t.Fatal("expected error for quantity over max")
	}
}

func TestReadRegistersRoundTrip(t *testing.T) {
	req, err := EncodeReadRegistersRequest(ReadHoldingRegisters, 100, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, count, err := DecodeReadRegistersRequest(req)
	if err != nil || start != 100 || count != 3 {
		t.Fatalf("got start=%d count=%d err=%v", start, count, err)
	}

	values := []uint16{1, 2, 3}
	resp, err := EncodeReadRegistersResponse(ReadHoldingRegisters, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeReadRegistersResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("register %d mismatch: got %d want %d", i, got[i], values[i])
		}
	}
}

func TestWriteSingleCoilRoundTrip(t *testing.T) {
	p := EncodeWriteSingleCoilRequest(5, true)
	addr, value, err := DecodeWriteSingleCoilRequest(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != 5 || !value {
		t.Fatalf("got addr=%d value=%v", addr, value)
	}

	off := EncodeWriteSingleCoilRequest(5, false)
	_, value2, err := DecodeWriteSingleCoilRequest(off)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value2 {
		t.Fatal("expected off value to decode as false")
	}
}

func TestWriteSingleRegisterRoundTrip(t *testing.T) {
	p := EncodeWriteSingleRegisterRequest(7, 1234)
	addr, value, err := DecodeWriteSingleRegisterRequest(p)
	if err != nil || addr != 7 || value != 1234 {
		t.Fatalf("got addr=%d value=%d err=%v", addr, value, err)
	}
}

func TestWriteMultipleCoilsRoundTrip(t *testing.T) {
	bits := []bool{true, true, false, true, false, false, false, false, true}
	req, err := EncodeWriteMultipleCoilsRequest(20, bits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, got, err := DecodeWriteMultipleCoilsRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 20 {
		t.Fatalf("got start=%d", start)
	}
	for i := range bits {
		if got[i] != bits[i] {
			t.Fatalf("bit %d mismatch: got %v want %v", i, got[i], bits[i])
		}
	}

	resp := EncodeWriteMultipleResponse(WriteMultipleCoils, 20, uint16(len(bits)))
	gotStart, gotCount, err := DecodeWriteMultipleResponse(resp)
	if err != nil || gotStart != 20 || int(gotCount) != len(bits) {
		t.Fatalf("got start=%d count=%d err=%v", gotStart, gotCount, err)
	}
}

func TestWriteMultipleRegistersRoundTrip(t *testing.T) {
	values := []uint16{10, 20, 30}
	req, err := EncodeWriteMultipleRegistersRequest(50, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, got, err := DecodeWriteMultipleRegistersRequest(req)
	if err != nil || start != 50 {
		t.Fatalf("got start=%d err=%v", start, err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("register %d mismatch: got %d want %d", i, got[i], values[i])
		}
	}
}

func TestWriteQuantityBounds(t *testing.T) {
	if _, err := EncodeWriteMultipleCoilsRequest(0, make([]bool, MaxWriteCoils+1)); err == nil {
		t.Fatal("expected error for coil quantity over max")
	}
	if _, err := EncodeWriteMultipleRegistersRequest(0, make([]uint16, MaxWriteRegisters+1)); err == nil {
		t.Fatal("expected error for register quantity over max")
	}
}

func TestReadWriteMultipleRegistersRoundTrip(t *testing.T) {
	writeValues := []uint16{9, 8, 7}
	req, err := EncodeReadWriteMultipleRegistersRequest(0, 4, 10, writeValues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readStart, readCount, writeStart, got, err := DecodeReadWriteMultipleRegistersRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if readStart != 0 || readCount != 4 || writeStart != 10 {
		t.Fatalf("got readStart=%d readCount=%d writeStart=%d", readStart, readCount, writeStart)
	}
	for i := range writeValues {
		if got[i] != writeValues[i] {
			t.Fatalf("write value %d mismatch", i)
		}
	}
}

func TestReadFifoQueueRoundTrip(t *testing.T) {
	req := EncodeReadFifoQueueRequest(42)
	addr, err := DecodeReadFifoQueueRequest(req)
	if err != nil || addr != 42 {
		t.Fatalf("got addr=%d err=%v", addr, err)
	}

	values := []uint16{1, 2, 3, 4}
	resp, err := EncodeReadFifoQueueResponse(values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeReadFifoQueueResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("value %d mismatch", i)
		}
	}
}

func TestDiagnosticsRoundTrip(t *testing.T) {
	p := EncodeDiagnosticsRequest(0x0001, 0x0000)
	sub, data, err := DecodeDiagnosticsRequest(p)
	if err != nil || sub != 0x0001 || data != 0x0000 {
		t.Fatalf("got sub=%d data=%d err=%v", sub, data, err)
	}
}

func TestExceptionResponse(t *testing.T) {
	resp := NewExceptionResponse(ReadHoldingRegisters, IllegalDataAddress)
	if !resp.IsException() {
		t.Fatal("expected exception PDU")
	}
	code, fc, ok := resp.AsException()
	if !ok || code != IllegalDataAddress || fc != ReadHoldingRegisters {
		t.Fatalf("got code=%v fc=0x%02X ok=%v", code, fc, ok)
	}
}

func TestReadExceptionStatusRoundTrip(t *testing.T) {
	resp := EncodeReadExceptionStatusResponse(0x6A)
	status, err := DecodeReadExceptionStatusResponse(resp)
	if err != nil || status != 0x6A {
		t.Fatalf("got status=0x%02X err=%v", status, err)
	}
}

func TestReportServerIdRoundTrip(t *testing.T) {
	resp, err := EncodeReportServerIdResponse([]byte("corebus"), true, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	serverId, runIndicatorOn, additional, err := DecodeReportServerIdResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(serverId) != "corebus" || !runIndicatorOn || len(additional) != 2 || additional[0] != 0x01 {
		t.Fatalf("got serverId=%q runIndicatorOn=%v additional=%v", serverId, runIndicatorOn, additional)
	}
}

func TestReadDeviceIdentificationRoundTrip(t *testing.T) {
	req := EncodeReadDeviceIdentificationRequest(0x01, 0x00)
	code, objectId, err := DecodeReadDeviceIdentificationRequest(req)
	if err != nil || code != 0x01 || objectId != 0x00 {
		t.Fatalf("got code=%d objectId=%d err=%v", code, objectId, err)
	}

	objects := []DeviceIdentificationObject{
		{ID: 0x00, Value: []byte("corebus")},
		{ID: 0x01, Value: []byte("can-modbus gateway")},
	}
	resp, err := EncodeReadDeviceIdentificationResponse(0x01, false, 0, objects)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conformity, more, _, gotObjects, err := DecodeReadDeviceIdentificationResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conformity != 0x01 || more {
		t.Fatalf("got conformity=%d more=%v", conformity, more)
	}
	if len(gotObjects) != 2 || string(gotObjects[0].Value) != "corebus" || string(gotObjects[1].Value) != "can-modbus gateway" {
		t.Fatalf("got objects=%+v", gotObjects)
	}
}
