package modbus

import (
	"github.com/canline/corebus/internal/modbus/pdu"
	"github.com/canline/corebus/internal/modbus/rtu"
	"github.com/canline/corebus/internal/modbus/tcp"
)

// FramedMessage is one assembled ADU, reduced to the fields the engines
// care about: the PDU itself, the address it concerns (unit ID for TCP,
// station address for RTU), and a transaction identifier meaningful only
// for TCP (always 0 for RTU, which matches strictly by FIFO order).
type FramedMessage struct {
	TransactionID uint16
	ServerAddress uint8
	PDU           pdu.PDU
}

// ClientFramer is the framing strategy a ClientEngine is configured
// with: either Modbus TCP or Modbus RTU.
type ClientFramer interface {
	// NextTransactionID allocates the next wire transaction ID (TCP) or
	// returns 0, meaninglessly, for RTU.
	NextTransactionID() uint16
	// Encode serialises a request PDU bound for serverAddress, tagged
	// with transactionID (ignored by RTU).
	Encode(transactionID uint16, serverAddress uint8, p pdu.PDU) []byte
	// Feed parses newly arrived bytes into zero or more response
	// messages.
	Feed(data []byte) []FramedMessage
	// UsesTransactionID reports whether responses are matched to
	// requests by TransactionID (TCP) or by strict FIFO order (RTU).
	UsesTransactionID() bool
}

// ServerFramer is the framing strategy a ServerEngine is configured
// with.
type ServerFramer interface {
	Encode(transactionID uint16, serverAddress uint8, p pdu.PDU) []byte
	Feed(data []byte) []FramedMessage
}

// tcpClientFramer adapts the TCP ADU codec to ClientFramer.
type tcpClientFramer struct {
	counter   tcp.TransactionCounter
	assembler *tcp.Assembler
}

// NewTCPClientFramer builds a ClientFramer over Modbus TCP.
func NewTCPClientFramer(warnf func(string, ...interface{})) ClientFramer {
	f := &tcpClientFramer{}
	f.assembler = tcp.NewAssembler(nil, warnf)
	return f
}

func (f *tcpClientFramer) NextTransactionID() uint16 {
	return f.counter.Next()
}

func (f *tcpClientFramer) Encode(transactionID uint16, serverAddress uint8, p pdu.PDU) []byte {
	return tcp.Encode(tcp.ADU{TransactionID: transactionID, UnitID: serverAddress, PDU: p})
}

func (f *tcpClientFramer) Feed(data []byte) []FramedMessage {
	adus := f.assembler.Feed(data)
	out := make([]FramedMessage, len(adus))
	for i, a := range adus {
		out[i] = FramedMessage{TransactionID: a.TransactionID, ServerAddress: a.UnitID, PDU: a.PDU}
	}
	return out
}

func (f *tcpClientFramer) UsesTransactionID() bool { return true }

// rtuClientFramer adapts the RTU ADU codec to ClientFramer.
type rtuClientFramer struct {
	assembler *rtu.Assembler
}

// NewRTUClientFramer builds a ClientFramer over Modbus RTU.
func NewRTUClientFramer(warnf func(string, ...interface{})) ClientFramer {
	return &rtuClientFramer{assembler: rtu.NewAssembler(rtu.RoleClient, nil, warnf)}
}

func (f *rtuClientFramer) NextTransactionID() uint16 {
	return 0
}

func (f *rtuClientFramer) Encode(_ uint16, serverAddress uint8, p pdu.PDU) []byte {
	return rtu.Encode(rtu.ADU{Address: serverAddress, PDU: p})
}

func (f *rtuClientFramer) Feed(data []byte) []FramedMessage {
	adus := f.assembler.Feed(data)
	out := make([]FramedMessage, len(adus))
	for i, a := range adus {
		out[i] = FramedMessage{ServerAddress: a.Address, PDU: a.PDU}
	}
	return out
}

func (f *rtuClientFramer) UsesTransactionID() bool { return false }

// tcpServerFramer adapts the TCP ADU codec to ServerFramer.
type tcpServerFramer struct {
	assembler *tcp.Assembler
}

// NewTCPServerFramer builds a ServerFramer over Modbus TCP.
func NewTCPServerFramer(warnf func(string, ...interface{})) ServerFramer {
	return &tcpServerFramer{assembler: tcp.NewAssembler(nil, warnf)}
}

func (f *tcpServerFramer) Encode(transactionID uint16, serverAddress uint8, p pdu.PDU) []byte {
	return tcp.Encode(tcp.ADU{TransactionID: transactionID, UnitID: serverAddress, PDU: p})
}

func (f *tcpServerFramer) Feed(data []byte) []FramedMessage {
	adus := f.assembler.Feed(data)
	out := make([]FramedMessage, len(adus))
	for i, a := range adus {
		out[i] = FramedMessage{TransactionID: a.TransactionID, ServerAddress: a.UnitID, PDU: a.PDU}
	}
	return out
}

// rtuServerFramer adapts the RTU ADU codec to ServerFramer.
type rtuServerFramer struct {
	assembler *rtu.Assembler
}

// NewRTUServerFramer builds a ServerFramer over Modbus RTU, responding
// only to frames addressed to stationAddress (or broadcast).
func NewRTUServerFramer(stationAddress uint8, warnf func(string, ...interface{})) ServerFramer {
	addr := stationAddress
	return &rtuServerFramer{assembler: rtu.NewAssembler(rtu.RoleServer, &addr, warnf)}
}

func (f *rtuServerFramer) Encode(_ uint16, serverAddress uint8, p pdu.PDU) []byte {
	return rtu.Encode(rtu.ADU{Address: serverAddress, PDU: p})
}

func (f *rtuServerFramer) Feed(data []byte) []FramedMessage {
	adus := f.assembler.Feed(data)
	out := make([]FramedMessage, len(adus))
	for i, a := range adus {
		out[i] = FramedMessage{ServerAddress: a.Address, PDU: a.PDU}
	}
	return out
}
