package pdu

import "encoding/binary"

// Function codes this package understands.
const (
	ReadCoils                      byte = 0x01
	ReadDiscreteInputs             byte = 0x02
	ReadHoldingRegisters           byte = 0x03
	ReadInputRegisters             byte = 0x04
	WriteSingleCoil                byte = 0x05
	WriteSingleRegister            byte = 0x06
	ReadExceptionStatus            byte = 0x07
	Diagnostics                    byte = 0x08
	WriteMultipleCoils             byte = 0x0F
	WriteMultipleRegisters         byte = 0x10
	ReportServerId                 byte = 0x11
	ReadWriteMultipleRegisters     byte = 0x17
	ReadFifoQueue                  byte = 0x18
	EncapsulatedInterfaceTransport byte = 0x2B

	exceptionFlag byte = 0x80
)

// Diagnostics (0x08) sub-function codes this package understands.
const (
	DiagReturnQueryData                 uint16 = 0x0000
	DiagRestartCommunications           uint16 = 0x0001
	DiagReturnDiagnosticRegister        uint16 = 0x0002
	DiagForceListenOnlyMode             uint16 = 0x0004
	DiagClearCountersAndDiagRegister    uint16 = 0x000A
	DiagReturnBusMessageCount           uint16 = 0x000B
	DiagReturnBusExceptionErrorCount    uint16 = 0x000C
	DiagReturnServerMessageCount        uint16 = 0x000D
	DiagReturnServerExceptionErrorCount uint16 = 0x000F
)

// EncapsulatedInterfaceTransport (0x2B) MEI types.
const (
	MEITypeReadDeviceIdentification byte = 0x0E
)

// Quantity bounds from the Modbus application protocol specification.
const (
	MaxReadCoils          = 2000
	MaxWriteCoils          = 1968
	MaxReadRegisters       = 125
	MaxWriteRegisters      = 123
	MaxReadWriteReadCount  = 125
	MaxReadWriteWriteCount = 121
)

// PDU is a function-code-addressed protocol data unit, transport
// independent.
type PDU struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the function code carries the exception
// flag.
func (p PDU) IsException() bool {
	return p.FunctionCode&exceptionFlag != 0
}

// AsException decodes an exception response. ok is false when p is not
// an exception PDU.
func (p PDU) AsException() (code ExceptionCode, originalFunctionCode byte, ok bool) {
	if !p.IsException() || len(p.Data) < 1 {
		return 0, 0, false
	}
	return ExceptionCode(p.Data[0]), p.FunctionCode &^ exceptionFlag, true
}

// NewExceptionResponse builds an exception PDU for the given request
// function code.
func NewExceptionResponse(requestFunctionCode byte, code ExceptionCode) PDU {
	return PDU{FunctionCode: requestFunctionCode | exceptionFlag, Data: []byte{byte(code)}}
}

func u16(data []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(data[offset : offset+2])
}

func putU16(data []byte, offset int, v uint16) {
	binary.BigEndian.PutUint16(data[offset:offset+2], v)
}

// --- Read coils / discrete inputs (0x01 / 0x02) ---

// EncodeReadBitsRequest builds a ReadCoils/ReadDiscreteInputs request.
func EncodeReadBitsRequest(functionCode byte, start, count uint16) (PDU, error) {
	if count == 0 || count > MaxReadCoils {
		return PDU{}, newError("read bits quantity %d out of range 1..%d", count, MaxReadCoils)
	}
	data := make([]byte, 4)
	putU16(data, 0, start)
	putU16(data, 2, count)
	return PDU{FunctionCode: functionCode, Data: data}, nil
}

// DecodeReadBitsRequest parses a ReadCoils/ReadDiscreteInputs request.
func DecodeReadBitsRequest(p PDU) (start, count uint16, err error) {
	if len(p.Data) != 4 {
		return 0, 0, newError("read bits request must carry 4 bytes, got %d", len(p.Data))
	}
	start, count = u16(p.Data, 0), u16(p.Data, 2)
	if count == 0 || count > MaxReadCoils {
		return 0, 0, newError("read bits quantity %d out of range 1..%d", count, MaxReadCoils)
	}
	return start, count, nil
}

// EncodeReadBitsResponse packs count booleans into the byte-count +
// bit-packed-bytes response shape.
func EncodeReadBitsResponse(functionCode byte, bits []bool) (PDU, error) {
	byteCount := (len(bits) + 7) / 8
	if byteCount > 255 {
		return PDU{}, newError("read bits response too large: %d bytes", byteCount)
	}
	data := make([]byte, 1+byteCount)
	data[0] = byte(byteCount)
	for i, b := range bits {
		if b {
			data[1+i/8] |= 1 << uint(i%8)
		}
	}
	return PDU{FunctionCode: functionCode, Data: data}, nil
}

// DecodeReadBitsResponse unpacks a read-bits response into count
// booleans.
func DecodeReadBitsResponse(p PDU, count int) ([]bool, error) {
	if len(p.Data) < 1 {
		return nil, newError("read bits response missing byte count")
	}
	byteCount := int(p.Data[0])
	if len(p.Data) != 1+byteCount {
		return nil, newError("read bits response byte count %d does not match payload length %d", byteCount, len(p.Data)-1)
	}
	if byteCount < (count+7)/8 {
		return nil, newError("read bits response too short for %d bits", count)
	}
	bits := make([]bool, count)
	for i := range bits {
		bits[i] = p.Data[1+i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}

// --- Read holding / input registers (0x03 / 0x04) ---

// EncodeReadRegistersRequest builds a ReadHoldingRegisters/
// ReadInputRegisters request.
func EncodeReadRegistersRequest(functionCode byte, start, count uint16) (PDU, error) {
	if count == 0 || count > MaxReadRegisters {
		return PDU{}, newError("read registers quantity %d out of range 1..%d", count, MaxReadRegisters)
	}
	data := make([]byte, 4)
	putU16(data, 0, start)
	putU16(data, 2, count)
	return PDU{FunctionCode: functionCode, Data: data}, nil
}

// DecodeReadRegistersRequest parses a read-registers request.
func DecodeReadRegistersRequest(p PDU) (start, count uint16, err error) {
	if len(p.Data) != 4 {
		return 0, 0, newError("read registers request must carry 4 bytes, got %d", len(p.Data))
	}
	start, count = u16(p.Data, 0), u16(p.Data, 2)
	if count == 0 || count > MaxReadRegisters {
		return 0, 0, newError("read registers quantity %d out of range 1..%d", count, MaxReadRegisters)
	}
	return start, count, nil
}

// EncodeReadRegistersResponse packs register values into the byte-count
// + big-endian-u16-array response shape.
func EncodeReadRegistersResponse(functionCode byte, values []uint16) (PDU, error) {
	byteCount := len(values) * 2
	if byteCount > 255 {
		return PDU{}, newError("read registers response too large: %d bytes", byteCount)
	}
	data := make([]byte, 1+byteCount)
	data[0] = byte(byteCount)
	for i, v := range values {
		putU16(data, 1+i*2, v)
	}
	return PDU{FunctionCode: functionCode, Data: data}, nil
}

// DecodeReadRegistersResponse unpacks a read-registers response.
func DecodeReadRegistersResponse(p PDU) ([]uint16, error) {
	if len(p.Data) < 1 {
		return nil, newError("read registers response missing byte count")
	}
	byteCount := int(p.Data[0])
	if len(p.Data) != 1+byteCount || byteCount%2 != 0 {
		return nil, newError("read registers response malformed byte count %d", byteCount)
	}
	values := make([]uint16, byteCount/2)
	for i := range values {
		values[i] = u16(p.Data, 1+i*2)
	}
	return values, nil
}

// --- Write single coil (0x05) ---

const coilOnValue = 0xFF00

// EncodeWriteSingleCoilRequest builds a WriteSingleCoil request/response
// PDU (the response echoes the request verbatim).
func EncodeWriteSingleCoilRequest(addr uint16, value bool) PDU {
	data := make([]byte, 4)
	putU16(data, 0, addr)
	if value {
		putU16(data, 2, coilOnValue)
	}
	return PDU{FunctionCode: WriteSingleCoil, Data: data}
}

// DecodeWriteSingleCoilRequest parses a WriteSingleCoil request/response.
func DecodeWriteSingleCoilRequest(p PDU) (addr uint16, value bool, err error) {
	if len(p.Data) != 4 {
		return 0, false, newError("write single coil must carry 4 bytes, got %d", len(p.Data))
	}
	v := u16(p.Data, 2)
	if v != 0x0000 && v != coilOnValue {
		return 0, false, newError("write single coil value 0x%04X must be 0x0000 or 0xFF00", v)
	}
	return u16(p.Data, 0), v == coilOnValue, nil
}

// --- Write single register (0x06) ---

// EncodeWriteSingleRegisterRequest builds a WriteSingleRegister
// request/response PDU.
func EncodeWriteSingleRegisterRequest(addr, value uint16) PDU {
	data := make([]byte, 4)
	putU16(data, 0, addr)
	putU16(data, 2, value)
	return PDU{FunctionCode: WriteSingleRegister, Data: data}
}

// DecodeWriteSingleRegisterRequest parses a WriteSingleRegister
// request/response.
func DecodeWriteSingleRegisterRequest(p PDU) (addr, value uint16, err error) {
	if len(p.Data) != 4 {
		return 0, 0, newError("write single register must carry 4 bytes, got %d", len(p.Data))
	}
	return u16(p.Data, 0), u16(p.Data, 2), nil
}

// --- Write multiple coils (0x0F) ---

// EncodeWriteMultipleCoilsRequest builds a WriteMultipleCoils request.
func EncodeWriteMultipleCoilsRequest(start uint16, bits []bool) (PDU, error) {
	if len(bits) == 0 || len(bits) > MaxWriteCoils {
		return PDU{}, newError("write coils quantity %d out of range 1..%d", len(bits), MaxWriteCoils)
	}
	byteCount := (len(bits) + 7) / 8
	data := make([]byte, 5+byteCount)
	putU16(data, 0, start)
	putU16(data, 2, uint16(len(bits)))
	data[4] = byte(byteCount)
	for i, b := range bits {
		if b {
			data[5+i/8] |= 1 << uint(i%8)
		}
	}
	return PDU{FunctionCode: WriteMultipleCoils, Data: data}, nil
}

// DecodeWriteMultipleCoilsRequest parses a WriteMultipleCoils request.
func DecodeWriteMultipleCoilsRequest(p PDU) (start uint16, bits []bool, err error) {
	if len(p.Data) < 5 {
		return 0, nil, newError("write multiple coils request too short")
	}
	start = u16(p.Data, 0)
	count := u16(p.Data, 2)
	if count == 0 || count > MaxWriteCoils {
		return 0, nil, newError("write coils quantity %d out of range 1..%d", count, MaxWriteCoils)
	}
	byteCount := int(p.Data[4])
	if len(p.Data) != 5+byteCount || byteCount != (int(count)+7)/8 {
		return 0, nil, newError("write multiple coils byte count mismatch")
	}
	bits = make([]bool, count)
	for i := range bits {
		bits[i] = p.Data[5+i/8]&(1<<uint(i%8)) != 0
	}
	return start, bits, nil
}

// EncodeWriteMultipleResponse builds the shared start+count response
// shape used by both write-multiple-coils and write-multiple-registers.
func EncodeWriteMultipleResponse(functionCode byte, start, count uint16) PDU {
	data := make([]byte, 4)
	putU16(data, 0, start)
	putU16(data, 2, count)
	return PDU{FunctionCode: functionCode, Data: data}
}

// DecodeWriteMultipleResponse parses the shared start+count response.
func DecodeWriteMultipleResponse(p PDU) (start, count uint16, err error) {
	if len(p.Data) != 4 {
		return 0, 0, newError("write multiple response must carry 4 bytes, got %d", len(p.Data))
	}
	return u16(p.Data, 0), u16(p.Data, 2), nil
}

// --- Write multiple registers (0x10) ---

// EncodeWriteMultipleRegistersRequest builds a WriteMultipleRegisters
// request.
func EncodeWriteMultipleRegistersRequest(start uint16, values []uint16) (PDU, error) {
	if len(values) == 0 || len(values) > MaxWriteRegisters {
		return PDU{}, newError("write registers quantity %d out of range 1..%d", len(values), MaxWriteRegisters)
	}
	byteCount := len(values) * 2
	data := make([]byte, 5+byteCount)
	putU16(data, 0, start)
	putU16(data, 2, uint16(len(values)))
	data[4] = byte(byteCount)
	for i, v := range values {
		putU16(data, 5+i*2, v)
	}
	return PDU{FunctionCode: WriteMultipleRegisters, Data: data}, nil
}

// DecodeWriteMultipleRegistersRequest parses a WriteMultipleRegisters
// request.
func DecodeWriteMultipleRegistersRequest(p PDU) (start uint16, values []uint16, err error) {
	if len(p.Data) < 5 {
		return 0, nil, newError("write multiple registers request too short")
	}
	start = u16(p.Data, 0)
	count := u16(p.Data, 2)
	if count == 0 || count > MaxWriteRegisters {
		return 0, nil, newError("write registers quantity %d out of range 1..%d", count, MaxWriteRegisters)
	}
	byteCount := int(p.Data[4])
	if len(p.Data) != 5+byteCount || byteCount != int(count)*2 {
		return 0, nil, newError("write multiple registers byte count mismatch")
	}
	values = make([]uint16, count)
	for i := range values {
		values[i] = u16(p.Data, 5+i*2)
	}
	return start, values, nil
}

// --- Read/write multiple registers (0x17) ---

// EncodeReadWriteMultipleRegistersRequest builds a combined read+write
// request: reads readCount registers from readStart while writing
// writeValues starting at writeStart, atomically on the server side.
func EncodeReadWriteMultipleRegistersRequest(readStart, readCount, writeStart uint16, writeValues []uint16) (PDU, error) {
	if readCount == 0 || readCount > MaxReadWriteReadCount {
		return PDU{}, newError("read/write read quantity %d out of range 1..%d", readCount, MaxReadWriteReadCount)
	}
	if len(writeValues) == 0 || len(writeValues) > MaxReadWriteWriteCount {
		return PDU{}, newError("read/write write quantity %d out of range 1..%d", len(writeValues), MaxReadWriteWriteCount)
	}
	byteCount := len(writeValues) * 2
	data := make([]byte, 9+byteCount)
	putU16(data, 0, readStart)
	putU16(data, 2, readCount)
	putU16(data, 4, writeStart)
	putU16(data, 6, uint16(len(writeValues)))
	data[8] = byte(byteCount)
	for i, v := range writeValues {
		putU16(data, 9+i*2, v)
	}
	return PDU{FunctionCode: ReadWriteMultipleRegisters, Data: data}, nil
}

// DecodeReadWriteMultipleRegistersRequest parses a combined read/write
// request.
func DecodeReadWriteMultipleRegistersRequest(p PDU) (readStart, readCount, writeStart uint16, writeValues []uint16, err error) {
	if len(p.Data) < 9 {
		return 0, 0, 0, nil, newError("read/write multiple registers request too short")
	}
	readStart = u16(p.Data, 0)
	readCount = u16(p.Data, 2)
	writeStart = u16(p.Data, 4)
	writeCount := u16(p.Data, 6)
	if readCount == 0 || readCount > MaxReadWriteReadCount {
		return 0, 0, 0, nil, newError("read/write read quantity %d out of range 1..%d", readCount, MaxReadWriteReadCount)
	}
	if writeCount == 0 || writeCount > MaxReadWriteWriteCount {
		return 0, 0, 0, nil, newError("read/write write quantity %d out of range 1..%d", writeCount, MaxReadWriteWriteCount)
	}
	byteCount := int(p.Data[8])
	if len(p.Data) != 9+byteCount || byteCount != int(writeCount)*2 {
		return 0, 0, 0, nil, newError("read/write multiple registers byte count mismatch")
	}
	writeValues = make([]uint16, writeCount)
	for i := range writeValues {
		writeValues[i] = u16(p.Data, 9+i*2)
	}
	return readStart, readCount, writeStart, writeValues, nil
}

// EncodeReadWriteMultipleRegistersResponse and DecodeReadWriteMultipleRegistersResponse
// reuse the plain read-registers response shape (byteCount + values).
func EncodeReadWriteMultipleRegistersResponse(values []uint16) (PDU, error) {
	return EncodeReadRegistersResponse(ReadWriteMultipleRegisters, values)
}

func DecodeReadWriteMultipleRegistersResponse(p PDU) ([]uint16, error) {
	return DecodeReadRegistersResponse(p)
}

// --- Read FIFO queue (0x18) ---

// EncodeReadFifoQueueRequest builds a ReadFifoQueue request.
func EncodeReadFifoQueueRequest(addr uint16) PDU {
	data := make([]byte, 2)
	putU16(data, 0, addr)
	return PDU{FunctionCode: ReadFifoQueue, Data: data}
}

// DecodeReadFifoQueueRequest parses a ReadFifoQueue request.
func DecodeReadFifoQueueRequest(p PDU) (addr uint16, err error) {
	if len(p.Data) != 2 {
		return 0, newError("read fifo queue request must carry 2 bytes, got %d", len(p.Data))
	}
	return u16(p.Data, 0), nil
}

// EncodeReadFifoQueueResponse builds a ReadFifoQueue response:
// byteCount:u16, fifoCount:u16, values.
func EncodeReadFifoQueueResponse(values []uint16) (PDU, error) {
	if len(values) > 31 {
		return PDU{}, newError("fifo queue response carries at most 31 registers, got %d", len(values))
	}
	data := make([]byte, 4+len(values)*2)
	putU16(data, 0, uint16(2+len(values)*2))
	putU16(data, 2, uint16(len(values)))
	for i, v := range values {
		putU16(data, 4+i*2, v)
	}
	return PDU{FunctionCode: ReadFifoQueue, Data: data}, nil
}

// DecodeReadFifoQueueResponse unpacks a ReadFifoQueue response.
func DecodeReadFifoQueueResponse(p PDU) ([]uint16, error) {
	if len(p.Data) < 4 {
		return nil, newError("read fifo queue response too short")
	}
	fifoCount := u16(p.Data, 2)
	if len(p.Data) != 4+int(fifoCount)*2 {
		return nil, newError("read fifo queue response length mismatch")
	}
	values := make([]uint16, fifoCount)
	for i := range values {
		values[i] = u16(p.Data, 4+i*2)
	}
	return values, nil
}

// --- Diagnostics (0x08) ---

// EncodeDiagnosticsRequest builds a Diagnostics request/response PDU
// (the echo sub-functions reuse the same shape).
func EncodeDiagnosticsRequest(subFunction, data uint16) PDU {
	buf := make([]byte, 4)
	putU16(buf, 0, subFunction)
	putU16(buf, 2, data)
	return PDU{FunctionCode: Diagnostics, Data: buf}
}

// DecodeDiagnosticsRequest parses a Diagnostics request/response PDU.
func DecodeDiagnosticsRequest(p PDU) (subFunction, data uint16, err error) {
	if len(p.Data) != 4 {
		return 0, 0, newError("diagnostics request must carry 4 bytes, got %d", len(p.Data))
	}
	return u16(p.Data, 0), u16(p.Data, 2), nil
}

// --- Read exception status (0x07) ---

// EncodeReadExceptionStatusRequest builds a ReadExceptionStatus request;
// it carries no data.
func EncodeReadExceptionStatusRequest() PDU {
	return PDU{FunctionCode: ReadExceptionStatus}
}

// EncodeReadExceptionStatusResponse packs the 8-bit exception status
// into a one-byte response.
func EncodeReadExceptionStatusResponse(status byte) PDU {
	return PDU{FunctionCode: ReadExceptionStatus, Data: []byte{status}}
}

// DecodeReadExceptionStatusResponse unpacks the 8-bit exception status.
func DecodeReadExceptionStatusResponse(p PDU) (byte, error) {
	if len(p.Data) != 1 {
		return 0, newError("read exception status response must carry 1 byte, got %d", len(p.Data))
	}
	return p.Data[0], nil
}

// --- Report server ID (0x11) ---

// EncodeReportServerIdRequest builds a ReportServerId request; it
// carries no data.
func EncodeReportServerIdRequest() PDU {
	return PDU{FunctionCode: ReportServerId}
}

// EncodeReportServerIdResponse builds a ReportServerId response. The
// specification leaves the server ID's internal layout vendor-defined;
// this package uses byteCount, a length-prefixed serverId, a
// runIndicatorStatus byte (0x00 or 0xFF), then any additional data, so
// the response round-trips exactly through DecodeReportServerIdResponse.
func EncodeReportServerIdResponse(serverId []byte, runIndicatorOn bool, additional []byte) (PDU, error) {
	if len(serverId) > 255 {
		return PDU{}, newError("report server id server id too large: %d bytes", len(serverId))
	}
	body := make([]byte, 0, 2+len(serverId)+1+len(additional))
	body = append(body, byte(len(serverId)))
	body = append(body, serverId...)
	if runIndicatorOn {
		body = append(body, 0xFF)
	} else {
		body = append(body, 0x00)
	}
	body = append(body, additional...)
	if len(body) > 255 {
		return PDU{}, newError("report server id response too large: %d bytes", len(body))
	}
	data := make([]byte, 1+len(body))
	data[0] = byte(len(body))
	copy(data[1:], body)
	return PDU{FunctionCode: ReportServerId, Data: data}, nil
}

// DecodeReportServerIdResponse splits a ReportServerId response into its
// server ID, run indicator state, and additional data.
func DecodeReportServerIdResponse(p PDU) (serverId []byte, runIndicatorOn bool, additional []byte, err error) {
	if len(p.Data) < 3 {
		return nil, false, nil, newError("report server id response too short")
	}
	byteCount := int(p.Data[0])
	if len(p.Data) != 1+byteCount {
		return nil, false, nil, newError("report server id response byte count mismatch")
	}
	body := p.Data[1:]
	serverIdLen := int(body[0])
	if 1+serverIdLen+1 > len(body) {
		return nil, false, nil, newError("report server id response server id length mismatch")
	}
	serverId = append([]byte(nil), body[1:1+serverIdLen]...)
	runIndicatorOn = body[1+serverIdLen] == 0xFF
	additional = append([]byte(nil), body[2+serverIdLen:]...)
	return serverId, runIndicatorOn, additional, nil
}

// --- Encapsulated interface transport / read device identification (0x2B/0x0E) ---

// DeviceIdentificationObject is one object returned by a
// ReadDeviceIdentification request, such as VendorName or ProductCode.
type DeviceIdentificationObject struct {
	ID    byte
	Value []byte
}

// EncodeReadDeviceIdentificationRequest builds a 0x2B/0x0E request for
// readDeviceIdCode (basic/regular/extended/individual) starting at
// objectId.
func EncodeReadDeviceIdentificationRequest(readDeviceIdCode byte, objectId byte) PDU {
	return PDU{FunctionCode: EncapsulatedInterfaceTransport, Data: []byte{MEITypeReadDeviceIdentification, readDeviceIdCode, objectId}}
}

// DecodeReadDeviceIdentificationRequest parses a 0x2B/0x0E request.
func DecodeReadDeviceIdentificationRequest(p PDU) (readDeviceIdCode, objectId byte, err error) {
	if len(p.Data) != 3 || p.Data[0] != MEITypeReadDeviceIdentification {
		return 0, 0, newError("read device identification request malformed")
	}
	return p.Data[1], p.Data[2], nil
}

// EncodeReadDeviceIdentificationResponse builds a 0x2B/0x0E response
// carrying the given objects, reporting conformityLevel and whether
// more objects follow.
func EncodeReadDeviceIdentificationResponse(conformityLevel byte, moreFollows bool, nextObjectId byte, objects []DeviceIdentificationObject) (PDU, error) {
	data := make([]byte, 0, 7)
	data = append(data, MEITypeReadDeviceIdentification, 0x01, conformityLevel)
	if moreFollows {
		data = append(data, 0xFF, nextObjectId)
	} else {
		data = append(data, 0x00, 0x00)
	}
	data = append(data, byte(len(objects)))
	for _, obj := range objects {
		if len(obj.Value) > 255 {
			return PDU{}, newError("device identification object %d too large: %d bytes", obj.ID, len(obj.Value))
		}
		data = append(data, obj.ID, byte(len(obj.Value)))
		data = append(data, obj.Value...)
	}
	return PDU{FunctionCode: EncapsulatedInterfaceTransport, Data: data}, nil
}

// DecodeReadDeviceIdentificationResponse parses a 0x2B/0x0E response.
func DecodeReadDeviceIdentificationResponse(p PDU) (conformityLevel byte, moreFollows bool, nextObjectId byte, objects []DeviceIdentificationObject, err error) {
	if len(p.Data) < 6 || p.Data[0] != MEITypeReadDeviceIdentification {
		return 0, false, 0, nil, newError("read device identification response malformed")
	}
	conformityLevel = p.Data[2]
	moreFollows = p.Data[3] == 0xFF
	nextObjectId = p.Data[4]
	count := int(p.Data[5])
	offset := 6
	objects = make([]DeviceIdentificationObject, 0, count)
	for i := 0; i < count; i++ {
		if offset+2 > len(p.Data) {
			return 0, false, 0, nil, newError("read device identification response truncated")
		}
		id := p.Data[offset]
		length := int(p.Data[offset+1])
		offset += 2
		if offset+length > len(p.Data) {
			return 0, false, 0, nil, newError("read device identification response object truncated")
		}
		objects = append(objects, DeviceIdentificationObject{ID: id, Value: append([]byte(nil), p.Data[offset:offset+length]...)})
		offset += length
	}
	return conformityLevel, moreFollows, nextObjectId, objects, nil
}
