// Package tcp implements Modbus TCP ADU framing: the 7-byte MBAP header
// plus PDU, over a byte-stream transport.
package tcp

import (
	"encoding/binary"

	"github.com/canline/corebus/internal/modbus/pdu"
)

// DefaultPort is the standard Modbus TCP listening port.
const DefaultPort = 502

const headerLen = 7

// ADU is one framed Modbus TCP message.
type ADU struct {
	TransactionID uint16
	UnitID        uint8
	PDU           pdu.PDU
}

// Encode serialises an ADU with the MBAP header: transactionId,
// protocolId (always 0), length (1 + len(PDU data + function code)),
// unitId, then the PDU.
func Encode(adu ADU) []byte {
	pduLen := 1 + len(adu.PDU.Data)
	out := make([]byte, headerLen+pduLen)
	binary.BigEndian.PutUint16(out[0:2], adu.TransactionID)
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint16(out[4:6], uint16(pduLen+1))
	out[6] = adu.UnitID
	out[7] = adu.PDU.FunctionCode
	copy(out[8:], adu.PDU.Data)
	return out
}

// TransactionCounter is a rolling 16-bit transaction ID generator, one
// per client connection.
type TransactionCounter struct {
	next uint16
}

// Next returns the next transaction ID, wrapping at 65536.
func (c *TransactionCounter) Next() uint16 {
	id := c.next
	c.next++
	return id
}

// Assembler accumulates bytes from a stream transport and yields
// complete ADUs. knownTransaction, when non-nil, is consulted to
// silently discard responses whose transactionId is not outstanding;
// pass nil on the server side, which accepts every transactionId.
type Assembler struct {
	buf              []byte
	knownTransaction func(uint16) bool
	warnf            func(string, ...interface{})
}

// NewAssembler builds an Assembler. Both callbacks may be nil.
func NewAssembler(knownTransaction func(uint16) bool, warnf func(string, ...interface{})) *Assembler {
	if warnf == nil {
		warnf = func(string, ...interface{}) {}
	}
	return &Assembler{knownTransaction: knownTransaction, warnf: warnf}
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

func (a *Assembler) tryParseOne() (adu *ADU, consumed int, ok bool) {
	if len(a.buf) < headerLen {
		return nil, 0, false
	}
	transactionID := binary.BigEndian.Uint16(a.buf[0:2])
	length := binary.BigEndian.Uint16(a.buf[4:6])
	unitID := a.buf[6]

	if length < 2 {
		a.warnf("tcp: MBAP header length %d carries no function code, discarding", length)
		return nil, headerLen, true
	}

	aduLen := headerLen + int(length) - 1
	if len(a.buf) < aduLen {
		return nil, 0, false
	}

	pduBytes := a.buf[headerLen:aduLen]
	result := ADU{
		TransactionID: transactionID,
		UnitID:        unitID,
		PDU:           pdu.PDU{FunctionCode: pduBytes[0], Data: append([]byte(nil), pduBytes[1:]...)},
	}

	if a.knownTransaction != nil && !a.knownTransaction(transactionID) {
		a.warnf("tcp: unknown transactionId %d, discarding", transactionID)
		return nil, aduLen, true
	}

	return &result, aduLen, true
}
