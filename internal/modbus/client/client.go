// Package client implements the Modbus ClientEngine: a single-goroutine
// protocol engine driven by a command channel, so every piece of engine
// state (pending transactions, retry counters, connection state) is
// touched by exactly one goroutine and needs no locking.
package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/canline/corebus/internal/modbus"
	"github.com/canline/corebus/internal/modbus/pdu"
)

// ConnState is the connection lifecycle an Engine tracks.
type ConnState int

const (
	Unconnected ConnState = iota
	Connecting
	Connected
	Closing
)

func (s ConnState) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	defaultTimeout = 1 * time.Second
	defaultRetries = 3
	cmdQueueDepth  = 256
)

type kind int

const (
	kindRead kind = iota
	kindWrite
	kindReadWrite
	kindRaw
)

// transaction is one in-flight request, owned exclusively by the
// engine's run loop.
type transaction struct {
	id            uint16
	kind          kind
	serverAddress uint8
	request       pdu.PDU
	readDU        modbus.DataUnit
	writeDU       modbus.DataUnit
	future        *modbus.ReplyFuture
	retriesLeft   int
	timer         *time.Timer
	noReply       bool // broadcast RTU writes: resolved on transmit, not on reply
}

// Engine is the Modbus ClientEngine. All exported Send* methods and
// lifecycle notifications are safe to call from any goroutine; they
// merely enqueue a closure onto the engine's own run loop.
type Engine struct {
	transport modbus.Transport
	framer    modbus.ClientFramer
	logger    *zap.Logger

	cmds chan func()
	stop chan struct{}
	done chan struct{}

	timeout time.Duration
	retries int

	state ConnState

	// pending is every outstanding transaction, for timeout/abort
	// bookkeeping. TCP responses are matched via byWireID (the wire
	// transaction ID the framer assigned); RTU has no transaction ID on
	// the wire and is matched strictly FIFO via fifoQueue instead. A
	// given transaction lives in pending plus exactly one of the other
	// two, chosen by framer.UsesTransactionID().
	pending   map[*transaction]struct{}
	byWireID  map[uint16]*transaction
	fifoQueue []*transaction
}

// New builds an Engine over transport, framed with framer. The engine
// does not start its run loop until Start is called.
func New(transport modbus.Transport, framer modbus.ClientFramer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		transport: transport,
		framer:    framer,
		logger:    logger,
		cmds:      make(chan func(), cmdQueueDepth),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		timeout:   defaultTimeout,
		retries:   defaultRetries,
		state:     Unconnected,
		pending:   make(map[*transaction]struct{}),
		byWireID:  make(map[uint16]*transaction),
	}
}

// Start launches the engine's run loop. Call once.
func (e *Engine) Start() {
	go e.run()
}

// Close stops the run loop, aborting every pending transaction with a
// ConnectionError fault.
func (e *Engine) Close() {
	select {
	case <-e.stop:
		return
	default:
	}
	close(e.stop)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			e.abortAll(modbus.NewFault(modbus.ConnectionError, "engine closed"))
			return
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.stop:
	}
}

// SetTimeout changes the per-transaction reply timeout applied to
// transactions started after the call.
func (e *Engine) SetTimeout(d time.Duration) {
	e.post(func() { e.timeout = d })
}

// SetNumberOfRetries changes the retry count applied to transactions
// started after the call.
func (e *Engine) SetNumberOfRetries(n int) {
	e.post(func() { e.retries = n })
}

// NotifyConnected transitions the engine to Connected.
func (e *Engine) NotifyConnected() {
	e.post(func() {
		e.state = Connected
		e.logger.Info("modbus client connected")
	})
}

// NotifyDisconnected transitions the engine to Unconnected and aborts
// every pending transaction with a ConnectionError fault.
func (e *Engine) NotifyDisconnected() {
	e.post(func() {
		e.state = Unconnected
		e.logger.Warn("modbus client disconnected, aborting pending transactions")
		e.abortAll(modbus.NewFault(modbus.ConnectionError, "transport disconnected"))
	})
}

func (e *Engine) abortAll(fault *modbus.Fault) {
	for tx := range e.pending {
		if tx.timer != nil {
			tx.timer.Stop()
		}
		tx.future.Fail(fault)
	}
	e.pending = make(map[*transaction]struct{})
	e.byWireID = make(map[uint16]*transaction)
	e.fifoQueue = nil
}

// SendReadRequest reads du.Count elements of du.RegisterType starting
// at du.Start from serverAddress.
func (e *Engine) SendReadRequest(serverAddress uint8, du modbus.DataUnit) *modbus.ReplyFuture {
	future := modbus.NewReplyFuture()
	e.post(func() {
		req, err := modbus.EncodeReadRequest(du)
		if err != nil {
			future.Fail(err.(*modbus.Fault))
			return
		}
		e.startTransaction(&transaction{
			kind:          kindRead,
			serverAddress: serverAddress,
			request:       req,
			readDU:        du,
			future:        future,
			retriesLeft:   e.retries,
		})
	})
	return future
}

// SendWriteRequest writes du.Values into du.RegisterType starting at
// du.Start on serverAddress. A broadcast RTU write (serverAddress ==
// rtu.BroadcastAddress) resolves as soon as it is transmitted, since no
// server replies to a broadcast.
func (e *Engine) SendWriteRequest(serverAddress uint8, du modbus.DataUnit) *modbus.ReplyFuture {
	future := modbus.NewReplyFuture()
	e.post(func() {
		req, err := modbus.EncodeWriteRequest(du)
		if err != nil {
			future.Fail(err.(*modbus.Fault))
			return
		}
		e.startTransaction(&transaction{
			kind:          kindWrite,
			serverAddress: serverAddress,
			request:       req,
			writeDU:       du,
			future:        future,
			retriesLeft:   e.retries,
			noReply:       serverAddress == 0 && !e.framer.UsesTransactionID(),
		})
	})
	return future
}

// SendReadWriteRequest issues a combined function-0x17 read/write.
func (e *Engine) SendReadWriteRequest(serverAddress uint8, read, write modbus.DataUnit) *modbus.ReplyFuture {
	future := modbus.NewReplyFuture()
	e.post(func() {
		req, err := modbus.EncodeReadWriteRequest(read, write)
		if err != nil {
			future.Fail(err.(*modbus.Fault))
			return
		}
		e.startTransaction(&transaction{
			kind:          kindReadWrite,
			serverAddress: serverAddress,
			request:       req,
			readDU:        read,
			writeDU:       write,
			future:        future,
			retriesLeft:   e.retries,
		})
	})
	return future
}

// SendRawRequest issues an arbitrary pre-built PDU (for diagnostics
// sub-functions and similar) and resolves the future with the raw
// response PDU.
func (e *Engine) SendRawRequest(serverAddress uint8, p pdu.PDU) *modbus.ReplyFuture {
	future := modbus.NewReplyFuture()
	e.post(func() {
		e.startTransaction(&transaction{
			kind:          kindRaw,
			serverAddress: serverAddress,
			request:       p,
			future:        future,
			retriesLeft:   e.retries,
		})
	})
	return future
}

// startTransaction must run on the engine goroutine.
func (e *Engine) startTransaction(tx *transaction) {
	if e.state != Connected {
		tx.future.Fail(modbus.NewFault(modbus.ConnectionError, "not connected"))
		return
	}
	tx.id = e.framer.NextTransactionID()
	e.transmit(tx)
}

func (e *Engine) transmit(tx *transaction) {
	frame := e.framer.Encode(tx.id, tx.serverAddress, tx.request)
	if err := e.transport.Write(frame); err != nil {
		tx.future.Fail(modbus.NewFault(modbus.WriteError, "%v", err))
		return
	}
	if tx.noReply {
		tx.future.Succeed(modbus.DataUnit{})
		return
	}
	e.pending[tx] = struct{}{}
	if e.framer.UsesTransactionID() {
		e.byWireID[tx.id] = tx
	} else {
		e.fifoQueue = append(e.fifoQueue, tx)
	}
	tx.timer = time.AfterFunc(e.timeout, func() {
		e.post(func() { e.handleTimeout(tx) })
	})
}

func (e *Engine) handleTimeout(tx *transaction) {
	if _, ok := e.pending[tx]; !ok {
		return // already resolved by a response that raced the timer
	}
	if tx.retriesLeft > 0 {
		tx.retriesLeft--
		e.removePending(tx)
		e.logger.Debug("modbus transaction timed out, retrying",
			zap.Uint16("transactionId", tx.id), zap.Int("retriesLeft", tx.retriesLeft))
		tx.id = e.framer.NextTransactionID()
		e.transmit(tx)
		return
	}
	e.removePending(tx)
	tx.future.Fail(modbus.NewFault(modbus.TimeoutError, "no reply after %d retries", e.retries))
}

func (e *Engine) removePending(tx *transaction) {
	delete(e.pending, tx)
	if e.framer.UsesTransactionID() {
		delete(e.byWireID, tx.id)
		return
	}
	for i, v := range e.fifoQueue {
		if v == tx {
			e.fifoQueue = append(e.fifoQueue[:i], e.fifoQueue[i+1:]...)
			break
		}
	}
}

// OnDataReceived is the transport-facing ingress point: feed it bytes as
// they arrive, in any order, from any goroutine.
func (e *Engine) OnDataReceived(data []byte) {
	e.post(func() { e.handleData(data) })
}

func (e *Engine) handleData(data []byte) {
	for _, msg := range e.framer.Feed(data) {
		e.resolveTransaction(msg)
	}
}

func (e *Engine) resolveTransaction(msg modbus.FramedMessage) {
	var tx *transaction
	if e.framer.UsesTransactionID() {
		tx = e.byWireID[msg.TransactionID]
	} else {
		if len(e.fifoQueue) == 0 {
			e.logger.Warn("modbus client received unexpected frame with no pending transaction")
			return
		}
		tx = e.fifoQueue[0]
	}
	if tx == nil {
		e.logger.Warn("modbus client received response for unknown transaction", zap.Uint16("transactionId", msg.TransactionID))
		return
	}
	e.removePending(tx)
	if tx.timer != nil {
		tx.timer.Stop()
	}

	if msg.PDU.IsException() {
		code, _, ok := msg.PDU.AsException()
		if !ok {
			tx.future.Fail(modbus.NewFault(modbus.UnknownError, "malformed exception response"))
			return
		}
		tx.future.Fail(modbus.NewProtocolFault(byte(code), "%s", code))
		return
	}

	switch tx.kind {
	case kindRead:
		out, err := modbus.DecodeReadResponse(tx.readDU, msg.PDU)
		if err != nil {
			tx.future.Fail(err.(*modbus.Fault))
			return
		}
		tx.future.Succeed(out)
	case kindWrite:
		if err := modbus.DecodeWriteResponse(tx.writeDU, msg.PDU); err != nil {
			tx.future.Fail(err.(*modbus.Fault))
			return
		}
		tx.future.Succeed(tx.writeDU)
	case kindReadWrite:
		out, err := modbus.DecodeReadWriteResponse(tx.readDU, msg.PDU)
		if err != nil {
			tx.future.Fail(err.(*modbus.Fault))
			return
		}
		tx.future.Succeed(out)
	case kindRaw:
		tx.future.Succeed(msg.PDU)
	}
}
