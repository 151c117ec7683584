package client

import (
	"sync"
	"testing"
	"time"

	"github.com/canline/corebus/internal/modbus"
	"github.com/canline/corebus/internal/modbus/datamap"
	"github.com/canline/corebus/internal/modbus/pdu"
	"github.com/canline/corebus/internal/modbus/rtu"
	"github.com/canline/corebus/internal/modbus/tcp"
)

// fakeTransport hands every written frame to a responder callback,
// which runs synchronously on the calling goroutine (the engine's run
// loop) and may call back into the engine asynchronously via
// OnDataReceived to emulate a real link.
type fakeTransport struct {
	mu        sync.Mutex
	writes    [][]byte
	onWrite   func(frame []byte)
	failWrite bool
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	fail := f.failWrite
	f.mu.Unlock()
	if fail {
		return &testWriteError{}
	}
	if f.onWrite != nil {
		f.onWrite(data)
	}
	return nil
}

type testWriteError struct{}

func (e *testWriteError) Error() string { return "write failed" }

func newConnectedTCPEngine(t *testing.T, onWrite func([]byte)) (*Engine, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{onWrite: onWrite}
	framer := modbus.NewTCPClientFramer(nil)
	e := New(transport, framer, nil)
	e.Start()
	t.Cleanup(e.Close)
	e.NotifyConnected()
	return e, transport
}

func TestSendReadRequestSuccessRoundTrip(t *testing.T) {
	var engineRef *Engine
	e, _ := newConnectedTCPEngine(t, func(frame []byte) {
		req := decodeTCPRequest(t, frame)
		resp, err := pdu.EncodeReadRegistersResponse(pdu.ReadHoldingRegisters, []uint16{10, 20, 30})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reply := tcp.Encode(tcp.ADU{TransactionID: req.TransactionID, UnitID: req.UnitID, PDU: resp})
		go engineRef.OnDataReceived(reply)
	})
	engineRef = e

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 0, Count: 3}
	future := e.SendReadRequest(1, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	value, fault := future.Result()
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	result := value.(modbus.DataUnit)
	if len(result.Values) != 3 || result.Values[0] != 10 || result.Values[2] != 30 {
		t.Fatalf("unexpected values: %+v", result.Values)
	}
}

func TestSendWriteRequestValidatesEcho(t *testing.T) {
	var engineRef *Engine
	e, _ := newConnectedTCPEngine(t, func(frame []byte) {
		req := decodeTCPRequest(t, frame)
		resp := pdu.EncodeWriteSingleRegisterRequest(5, 99)
		reply := tcp.Encode(tcp.ADU{TransactionID: req.TransactionID, UnitID: req.UnitID, PDU: resp})
		go engineRef.OnDataReceived(reply)
	})
	engineRef = e

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 5, Values: []uint16{99}}
	future := e.SendWriteRequest(1, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	if _, fault := future.Result(); fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
}

func TestTimeoutThenRetrySucceeds(t *testing.T) {
	attempts := 0
	var engineRef *Engine
	e, _ := newConnectedTCPEngine(t, func(frame []byte) {
		attempts++
		if attempts < 2 {
			return // drop the first attempt, forcing a retry
		}
		req := decodeTCPRequest(t, frame)
		resp, err := pdu.EncodeReadRegistersResponse(pdu.ReadHoldingRegisters, []uint16{1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reply := tcp.Encode(tcp.ADU{TransactionID: req.TransactionID, UnitID: req.UnitID, PDU: resp})
		go engineRef.OnDataReceived(reply)
	})
	engineRef = e
	e.SetTimeout(30 * time.Millisecond)
	e.SetNumberOfRetries(2)

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 0, Count: 1}
	future := e.SendReadRequest(1, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	if _, fault := future.Result(); fault != nil {
		t.Fatalf("unexpected fault after retry: %v", fault)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 write attempts, got %d", attempts)
	}
}

func TestTimeoutExhaustsRetriesAndFails(t *testing.T) {
	e, _ := newConnectedTCPEngine(t, func(frame []byte) {
		// never reply
	})
	e.SetTimeout(20 * time.Millisecond)
	e.SetNumberOfRetries(1)

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 0, Count: 1}
	future := e.SendReadRequest(1, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	_, fault := future.Result()
	if fault == nil || fault.Code != modbus.TimeoutError {
		t.Fatalf("expected TimeoutError fault, got %+v", fault)
	}
}

func TestExceptionResponseResolvesAsProtocolError(t *testing.T) {
	var engineRef *Engine
	e, _ := newConnectedTCPEngine(t, func(frame []byte) {
		req := decodeTCPRequest(t, frame)
		resp := pdu.NewExceptionResponse(pdu.ReadHoldingRegisters, pdu.IllegalDataAddress)
		reply := tcp.Encode(tcp.ADU{TransactionID: req.TransactionID, UnitID: req.UnitID, PDU: resp})
		go engineRef.OnDataReceived(reply)
	})
	engineRef = e

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 9000, Count: 1}
	future := e.SendReadRequest(1, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	_, fault := future.Result()
	if fault == nil || fault.Code != modbus.ProtocolError || fault.ExceptionCode != byte(pdu.IllegalDataAddress) {
		t.Fatalf("expected IllegalDataAddress protocol fault, got %+v", fault)
	}
}

func TestNotifyDisconnectedAbortsPendingTransactions(t *testing.T) {
	e, _ := newConnectedTCPEngine(t, func(frame []byte) {
		// never reply; we disconnect before any timeout fires
	})
	e.SetTimeout(5 * time.Second)

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 0, Count: 1}
	future := e.SendReadRequest(1, du)

	e.NotifyDisconnected()

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved after disconnect")
	}
	_, fault := future.Result()
	if fault == nil || fault.Code != modbus.ConnectionError {
		t.Fatalf("expected ConnectionError fault, got %+v", fault)
	}
}

func TestRTUBroadcastWriteResolvesWithoutReply(t *testing.T) {
	transport := &fakeTransport{}
	framer := modbus.NewRTUClientFramer(nil)
	e := New(transport, framer, nil)
	e.Start()
	t.Cleanup(e.Close)
	e.NotifyConnected()

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 0, Values: []uint16{7}}
	future := e.SendWriteRequest(rtu.BroadcastAddress, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast write never resolved")
	}
	if _, fault := future.Result(); fault != nil {
		t.Fatalf("unexpected fault on broadcast write: %v", fault)
	}
}

func TestSendBeforeConnectedFailsImmediately(t *testing.T) {
	transport := &fakeTransport{}
	framer := modbus.NewTCPClientFramer(nil)
	e := New(transport, framer, nil)
	e.Start()
	t.Cleanup(e.Close)

	du := modbus.DataUnit{RegisterType: datamap.HoldingRegisters, Start: 0, Count: 1}
	future := e.SendReadRequest(1, du)

	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	_, fault := future.Result()
	if fault == nil || fault.Code != modbus.ConnectionError {
		t.Fatalf("expected ConnectionError fault, got %+v", fault)
	}
}

func decodeTCPRequest(t *testing.T, frame []byte) tcp.ADU {
	t.Helper()
	a := tcp.NewAssembler(nil, nil)
	adus := a.Feed(frame)
	if len(adus) != 1 {
		t.Fatalf("expected exactly one decoded request ADU, got %d", len(adus))
	}
	return adus[0]
}
