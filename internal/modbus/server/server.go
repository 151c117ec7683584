// Package server implements the Modbus ServerEngine: a request
// dispatcher over a datamap.DataMap that holds diagnostic counters and
// emits fire-and-forget DataWritten notifications.
package server

import (
	"go.uber.org/zap"

	"github.com/canline/corebus/internal/modbus/datamap"
	"github.com/canline/corebus/internal/modbus/pdu"
)

// DataWritten is the notification emitted after a write request
// mutates the data map, forwarded to the audit store and the websocket
// hub. Both consumers are best-effort: the channel is read by their own
// goroutines and never blocks request processing for long.
type DataWritten struct {
	RegisterType datamap.RegisterType
	Start        uint16
	Values       []uint16
}

// Counters are the diagnostic counters the Diagnostics function code
// (0x08) and ReadExceptionStatus expose.
type Counters struct {
	BusMessage            uint16
	BusCommunicationError uint16
	BusExceptionError     uint16
	ServerMessage         uint16
	ServerNoResponse      uint16
	ServerBusy            uint16
}

func (c *Counters) clear() { *c = Counters{} }

// Options configures an Engine's optional behaviors, all defaulted to
// the inert value when left zero.
type Options struct {
	StationAddress        uint8
	DiagnosticRegister    uint16
	ExceptionStatusOffset uint16
	DeviceBusy            bool
	ListenOnlyMode        bool
	ServerIdentifier      []byte
	RunIndicatorStatus    bool
	AdditionalData        []byte
	DeviceIdentification  []pdu.DeviceIdentificationObject
}

// Engine is the Modbus ServerEngine. ProcessRequest is safe to call
// from any goroutine; it runs synchronously and does not itself spawn
// goroutines, matching the single-logical-thread model described for
// the client engine (the caller's transport loop IS the server's
// logical thread).
type Engine struct {
	dataMap  *datamap.DataMap
	opts     Options
	counters Counters
	logger   *zap.Logger
	onWrite  func(DataWritten)
}

// New builds an Engine serving requests against dataMap. onWrite, if
// non-nil, is invoked synchronously after a successful write that
// actually changed the data map; callers that want fire-and-forget
// delivery should have onWrite send on a buffered channel rather than
// block.
func New(dataMap *datamap.DataMap, opts Options, onWrite func(DataWritten), logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{dataMap: dataMap, opts: opts, onWrite: onWrite, logger: logger}
}

// Counters returns a copy of the engine's current diagnostic counters.
func (e *Engine) Counters() Counters {
	return e.counters
}

// DataMap exposes the underlying data map so a supervised caller (e.g.
// the REST introspection surface) can read or write register ranges
// through the same storage a wire client's requests mutate. Writes made
// this way bypass ProcessRequest's dispatch and counters, so callers
// that want the onWrite notification fired should call NotifyWrite
// after a changed write instead of calling SetData directly.
func (e *Engine) DataMap() *datamap.DataMap {
	return e.dataMap
}

// NotifyWrite invokes the engine's onWrite callback as ProcessRequest
// itself would after a changed write, for callers driving the data map
// directly (outside ProcessRequest) who still want the DataWritten
// notification delivered.
func (e *Engine) NotifyWrite(t datamap.RegisterType, start uint16, values []uint16) {
	e.notifyWrite(t, start, values)
}

// ProcessRequest dispatches one request PDU addressed to unitAddress and
// returns the response PDU to send back. ok is false when the request
// was addressed to a different unit (not broadcast) and should be
// silently ignored, or when ListenOnly mode suppresses the reply.
func (e *Engine) ProcessRequest(unitAddress uint8, p pdu.PDU) (resp pdu.PDU, ok bool) {
	if unitAddress != 0 && e.opts.StationAddress != 0 && unitAddress != e.opts.StationAddress {
		return pdu.PDU{}, false
	}
	e.counters.BusMessage++

	if e.opts.DeviceBusy && p.FunctionCode != pdu.Diagnostics {
		e.counters.ServerBusy++
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerBusy), true
	}

	resp, exception, noReply := e.dispatch(p)
	if exception {
		e.counters.BusExceptionError++
	} else {
		e.counters.ServerMessage++
	}
	if noReply {
		return pdu.PDU{}, false
	}
	if e.opts.ListenOnlyMode && p.FunctionCode != pdu.Diagnostics {
		return pdu.PDU{}, false
	}
	return resp, true
}

func (e *Engine) dispatch(p pdu.PDU) (resp pdu.PDU, exception bool, noReply bool) {
	if p.FunctionCode == pdu.Diagnostics {
		resp, exception, noReply = e.handleDiagnostics(p)
		return
	}
	switch p.FunctionCode {
	case pdu.ReadCoils:
		resp, exception = e.handleReadBits(p, datamap.Coils)
	case pdu.ReadDiscreteInputs:
		resp, exception = e.handleReadBits(p, datamap.DiscreteInputs)
	case pdu.ReadHoldingRegisters:
		resp, exception = e.handleReadRegisters(p, datamap.HoldingRegisters)
	case pdu.ReadInputRegisters:
		resp, exception = e.handleReadRegisters(p, datamap.InputRegisters)
	case pdu.WriteSingleCoil:
		resp, exception = e.handleWriteSingleCoil(p)
	case pdu.WriteSingleRegister:
		resp, exception = e.handleWriteSingleRegister(p)
	case pdu.WriteMultipleCoils:
		resp, exception = e.handleWriteMultipleCoils(p)
	case pdu.WriteMultipleRegisters:
		resp, exception = e.handleWriteMultipleRegisters(p)
	case pdu.ReadWriteMultipleRegisters:
		resp, exception = e.handleReadWriteMultipleRegisters(p)
	case pdu.ReadFifoQueue:
		resp, exception = e.handleReadFifoQueue(p)
	case pdu.ReadExceptionStatus:
		resp, exception = pdu.EncodeReadExceptionStatusResponse(e.exceptionStatus()), false
	case pdu.ReportServerId:
		r, err := pdu.EncodeReportServerIdResponse(e.opts.ServerIdentifier, e.opts.RunIndicatorStatus, e.opts.AdditionalData)
		if err != nil {
			resp, exception = pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerDeviceFailure), true
		} else {
			resp, exception = r, false
		}
	case pdu.EncapsulatedInterfaceTransport:
		resp, exception = e.handleReadDeviceIdentification(p)
	default:
		resp, exception = pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalFunction), true
	}
	return
}

func (e *Engine) exceptionStatus() byte {
	bits, err := e.dataMap.BitRange(datamap.Coils, e.opts.ExceptionStatusOffset, 8)
	if err != nil {
		return 0
	}
	var status byte
	for i, b := range bits {
		if b {
			status |= 1 << uint(i)
		}
	}
	return status
}

func (e *Engine) handleReadBits(p pdu.PDU, t datamap.RegisterType) (pdu.PDU, bool) {
	start, count, err := pdu.DecodeReadBitsRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	bits, err := e.dataMap.BitRange(t, start, count)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	resp, err := pdu.EncodeReadBitsResponse(p.FunctionCode, bits)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerDeviceFailure), true
	}
	return resp, false
}

func (e *Engine) handleReadRegisters(p pdu.PDU, t datamap.RegisterType) (pdu.PDU, bool) {
	start, count, err := pdu.DecodeReadRegistersRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	values, err := e.dataMap.DataRange(t, start, count)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	resp, err := pdu.EncodeReadRegistersResponse(p.FunctionCode, values)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerDeviceFailure), true
	}
	return resp, false
}

func (e *Engine) handleWriteSingleCoil(p pdu.PDU) (pdu.PDU, bool) {
	addr, value, err := pdu.DecodeWriteSingleCoilRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	changed, err := e.dataMap.SetBit(datamap.Coils, addr, value)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	if changed {
		e.notifyWrite(datamap.Coils, addr, []uint16{boolToU16(value)})
	}
	return p, false
}

func (e *Engine) handleWriteSingleRegister(p pdu.PDU) (pdu.PDU, bool) {
	addr, value, err := pdu.DecodeWriteSingleRegisterRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	changed, err := e.dataMap.SetData(datamap.HoldingRegisters, addr, value)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	if changed {
		e.notifyWrite(datamap.HoldingRegisters, addr, []uint16{value})
	}
	return p, false
}

func (e *Engine) handleWriteMultipleCoils(p pdu.PDU) (pdu.PDU, bool) {
	start, bits, err := pdu.DecodeWriteMultipleCoilsRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	changed, err := e.dataMap.SetBitRange(datamap.Coils, start, bits)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	if changed {
		values := make([]uint16, len(bits))
		for i, b := range bits {
			values[i] = boolToU16(b)
		}
		e.notifyWrite(datamap.Coils, start, values)
	}
	return pdu.EncodeWriteMultipleResponse(p.FunctionCode, start, uint16(len(bits))), false
}

func (e *Engine) handleWriteMultipleRegisters(p pdu.PDU) (pdu.PDU, bool) {
	start, values, err := pdu.DecodeWriteMultipleRegistersRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	changed, err := e.dataMap.SetDataRange(datamap.HoldingRegisters, start, values)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	if changed {
		e.notifyWrite(datamap.HoldingRegisters, start, values)
	}
	return pdu.EncodeWriteMultipleResponse(p.FunctionCode, start, uint16(len(values))), false
}

func (e *Engine) handleReadWriteMultipleRegisters(p pdu.PDU) (pdu.PDU, bool) {
	readStart, readCount, writeStart, writeValues, err := pdu.DecodeReadWriteMultipleRegistersRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	changed, err := e.dataMap.SetDataRange(datamap.HoldingRegisters, writeStart, writeValues)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	if changed {
		e.notifyWrite(datamap.HoldingRegisters, writeStart, writeValues)
	}
	values, err := e.dataMap.DataRange(datamap.HoldingRegisters, readStart, readCount)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	resp, err := pdu.EncodeReadWriteMultipleRegistersResponse(values)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerDeviceFailure), true
	}
	return resp, false
}

func (e *Engine) handleReadFifoQueue(p pdu.PDU) (pdu.PDU, bool) {
	addr, err := pdu.DecodeReadFifoQueueRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	size, _ := e.dataMap.Data(datamap.HoldingRegisters, addr)
	count := int(size)
	if count > 31 {
		count = 31
	}
	values, err := e.dataMap.DataRange(datamap.HoldingRegisters, addr+1, uint16(count))
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataAddress), true
	}
	resp, err := pdu.EncodeReadFifoQueueResponse(values)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerDeviceFailure), true
	}
	return resp, false
}

func (e *Engine) handleReadDeviceIdentification(p pdu.PDU) (pdu.PDU, bool) {
	_, _, err := pdu.DecodeReadDeviceIdentificationRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true
	}
	resp, err := pdu.EncodeReadDeviceIdentificationResponse(0x01, false, 0, e.opts.DeviceIdentification)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.ServerDeviceFailure), true
	}
	return resp, false
}

func (e *Engine) handleDiagnostics(p pdu.PDU) (resp pdu.PDU, exception bool, noReply bool) {
	subFunction, data, err := pdu.DecodeDiagnosticsRequest(p)
	if err != nil {
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalDataValue), true, false
	}
	switch subFunction {
	case pdu.DiagReturnQueryData:
		return pdu.EncodeDiagnosticsRequest(subFunction, data), false, false
	case pdu.DiagRestartCommunications:
		e.counters.clear()
		e.opts.ListenOnlyMode = false
		e.logger.Info("modbus server communications restarted")
		return pdu.EncodeDiagnosticsRequest(subFunction, data), false, false
	case pdu.DiagReturnDiagnosticRegister:
		return pdu.EncodeDiagnosticsRequest(subFunction, e.opts.DiagnosticRegister), false, false
	case pdu.DiagForceListenOnlyMode:
		e.opts.ListenOnlyMode = true
		e.logger.Info("modbus server entering listen-only mode")
		return pdu.PDU{}, false, true // no reply per the specification
	case pdu.DiagClearCountersAndDiagRegister:
		e.counters.clear()
		e.opts.DiagnosticRegister = 0
		return pdu.EncodeDiagnosticsRequest(subFunction, data), false, false
	case pdu.DiagReturnBusMessageCount:
		return pdu.EncodeDiagnosticsRequest(subFunction, e.counters.BusMessage), false, false
	case pdu.DiagReturnBusExceptionErrorCount:
		return pdu.EncodeDiagnosticsRequest(subFunction, e.counters.BusExceptionError), false, false
	case pdu.DiagReturnServerMessageCount:
		return pdu.EncodeDiagnosticsRequest(subFunction, e.counters.ServerMessage), false, false
	case pdu.DiagReturnServerExceptionErrorCount:
		return pdu.EncodeDiagnosticsRequest(subFunction, e.counters.BusExceptionError), false, false
	default:
		return pdu.NewExceptionResponse(p.FunctionCode, pdu.IllegalFunction), true, false
	}
}

func (e *Engine) notifyWrite(t datamap.RegisterType, start uint16, values []uint16) {
	if e.onWrite == nil {
		return
	}
	e.onWrite(DataWritten{RegisterType: t, Start: start, Values: values})
}

func boolToU16(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
