package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeSignal carries a freshly decoded CAN frame's signal map,
	// pushed whenever the running FrameProcessor successfully parses a
	// frame.
	MessageTypeSignal MessageType = "signal"

	// MessageTypeWrite carries a Modbus DataWritten notification from the
	// running ServerEngine.
	MessageTypeWrite MessageType = "write"

	// MessageTypeSystemStatus carries periodic liveness information.
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SignalData represents one decoded CAN frame's signal map.
type SignalData struct {
	MessageName string             `json:"message_name"`
	UniqueID    uint32             `json:"unique_id"`
	Signals     map[string]float64 `json:"signals"`
}

// WriteData represents a Modbus register range that just changed.
type WriteData struct {
	RegisterType string   `json:"register_type"`
	Start        uint16   `json:"start"`
	Values       []uint16 `json:"values"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewSignalMessage(messageName string, uniqueID uint32, signals map[string]float64) Message {
	return NewMessage(MessageTypeSignal, SignalData{
		MessageName: messageName,
		UniqueID:    uniqueID,
		Signals:     signals,
	})
}

func NewWriteMessage(registerType string, start uint16, values []uint16) Message {
	return NewMessage(MessageTypeWrite, WriteData{
		RegisterType: registerType,
		Start:        start,
		Values:       values,
	})
}
