// Package rtu implements Modbus RTU ADU framing: address byte, PDU,
// CRC-16/Modbus trailer, over a byte-stream transport.
package rtu

import (
	"github.com/canline/corebus/internal/modbus/pdu"
)

// BroadcastAddress is reserved for writes without a reply.
const BroadcastAddress = 0

// CRC16 computes the CRC-16/Modbus checksum: polynomial 0xA001,
// initial value 0xFFFF, reflected.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// ADU is one framed Modbus RTU message.
type ADU struct {
	Address uint8
	PDU     pdu.PDU
}

// Encode serialises an ADU: address byte, function code, data, then the
// CRC in little-endian order.
func Encode(adu ADU) []byte {
	body := make([]byte, 2+len(adu.PDU.Data))
	body[0] = adu.Address
	body[1] = adu.PDU.FunctionCode
	copy(body[2:], adu.PDU.Data)

	crc := CRC16(body)
	out := make([]byte, len(body)+2)
	copy(out, body)
	out[len(body)] = byte(crc)
	out[len(body)+1] = byte(crc >> 8)
	return out
}

// Role distinguishes which side of the exchange an Assembler is parsing,
// since request and response PDU shapes differ for the same function
// code.
type Role int

const (
	RoleServer Role = iota // parses incoming requests
	RoleClient             // parses incoming responses
)

// pduDataSize determines how many PDU data bytes follow the function
// code. variableAt >= 0 means a one-byte count field lives at that
// offset within the data, after which that many further bytes follow;
// u16CountAt >= 0 means a two-byte count field whose value is itself the
// remaining byte count (ReadFifoQueue response). Exactly one of fixed,
// variableAt, u16CountAt applies.
func pduDataSize(functionCode byte, role Role) (fixed, variableAt, u16CountAt int, ok bool) {
	if functionCode&0x80 != 0 {
		return 1, -1, -1, true // exception response: one code byte
	}

	if role == RoleServer {
		switch functionCode {
		case pdu.ReadCoils, pdu.ReadDiscreteInputs, pdu.ReadHoldingRegisters, pdu.ReadInputRegisters:
			return 4, -1, -1, true
		case pdu.WriteSingleCoil, pdu.WriteSingleRegister, pdu.Diagnostics:
			return 4, -1, -1, true
		case pdu.ReadFifoQueue:
			return 2, -1, -1, true
		case pdu.WriteMultipleCoils, pdu.WriteMultipleRegisters:
			return 5, 4, -1, true
		case pdu.ReadWriteMultipleRegisters:
			return 9, 8, -1, true
		default:
			return 0, 0, 0, false
		}
	}

	// RoleClient: parsing responses.
	switch functionCode {
	case pdu.ReadCoils, pdu.ReadDiscreteInputs, pdu.ReadHoldingRegisters, pdu.ReadInputRegisters,
		pdu.ReadWriteMultipleRegisters:
		return 1, 0, -1, true
	case pdu.WriteSingleCoil, pdu.WriteSingleRegister, pdu.Diagnostics,
		pdu.WriteMultipleCoils, pdu.WriteMultipleRegisters:
		return 4, -1, -1, true
	case pdu.ReadFifoQueue:
		return 0, -1, 0, true
	default:
		return 0, 0, 0, false
	}
}

// Assembler accumulates bytes from a stream transport and yields
// complete ADUs addressed to filterAddress (or any address when
// filterAddress is nil).
type Assembler struct {
	buf           []byte
	role          Role
	filterAddress *uint8
	warnf         func(string, ...interface{})
}

// NewAssembler builds an Assembler for the given role. warnf may be nil
// to discard diagnostics.
func NewAssembler(role Role, filterAddress *uint8, warnf func(string, ...interface{})) *Assembler {
	if warnf == nil {
		warnf = func(string, ...interface{}) {}
	}
	return &Assembler{role: role, filterAddress: filterAddress, warnf: warnf}
}

// Feed appends newly received bytes and returns every ADU that could be
// fully assembled from the buffer so far.
func (a *Assembler) Feed(data []byte) []ADU {
	a.buf = append(a.buf, data...)
	var out []ADU
	for {
		adu, consumed, ok := a.tryParseOne()
		if !ok {
			break
		}
		a.buf = a.buf[consumed:]
		if adu != nil {
			out = append(out, *adu)
		}
	}
	return out
}

// tryParseOne attempts one ADU parse from the front of the buffer.
// ok is false when more bytes are needed; adu is nil when the attempted
// frame was discarded (address mismatch, bad CRC) but bytes were still
// consumed.
func (a *Assembler) tryParseOne() (adu *ADU, consumed int, ok bool) {
	if len(a.buf) < 4 {
		return nil, 0, false
	}
	address := a.buf[0]
	functionCode := a.buf[1]

	fixed, variableAt, u16CountAt, known := pduDataSize(functionCode, a.role)
	if !known {
		a.warnf("rtu: unknown function code 0x%02X, discarding byte", functionCode)
		a.buf = a.buf[1:]
		return nil, 0, true
	}

	dataLen := fixed
	switch {
	case variableAt >= 0:
		if len(a.buf) < 2+variableAt+1 {
			return nil, 0, false
		}
		countByte := int(a.buf[2+variableAt])
		dataLen = variableAt + 1 + countByte
	case u16CountAt >= 0:
		if len(a.buf) < 2+u16CountAt+2 {
			return nil, 0, false
		}
		byteCount := int(a.buf[2+u16CountAt])<<8 | int(a.buf[2+u16CountAt+1])
		dataLen = u16CountAt + 2 + byteCount
	}

	aduLen := 2 + dataLen + 2
	if len(a.buf) < aduLen {
		return nil, 0, false
	}

	frame := a.buf[:aduLen]
	body := frame[:aduLen-2]
	wantCRC := CRC16(body)
	gotCRC := uint16(frame[aduLen-2]) | uint16(frame[aduLen-1])<<8
	if wantCRC != gotCRC {
		a.warnf("rtu: CRC mismatch for address %d function 0x%02X, discarding", address, functionCode)
		return nil, aduLen, true
	}

	if a.filterAddress != nil && address != *a.filterAddress && address != BroadcastAddress {
		return nil, aduLen, true
	}

	data := make([]byte, dataLen)
	copy(data, frame[2:2+dataLen])
	result := ADU{Address: address, PDU: pdu.PDU{FunctionCode: functionCode, Data: data}}
	return &result, aduLen, true
}
