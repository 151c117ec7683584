package candesc

import "fmt"

// MessageDescription is a unique-ID-keyed collection of signal
// descriptions plus the frame's payload size.
type MessageDescription struct {
	UniqueId    uint32
	Name        string
	Size        int // payload length in bytes, 0..64
	Transmitter string
	Comment     string
	Signals     map[string]SignalDescription
}

// NewMessageDescription builds an empty message shell.
func NewMessageDescription(uniqueId uint32, name string, size int) MessageDescription {
	return MessageDescription{
		UniqueId: uniqueId,
		Name:     name,
		Size:     size,
		Signals:  make(map[string]SignalDescription),
	}
}

// AddSignal inserts or replaces a signal by name.
func (m *MessageDescription) AddSignal(s SignalDescription) {
	if m.Signals == nil {
		m.Signals = make(map[string]SignalDescription)
	}
	m.Signals[s.Name] = s
}

// Valid reports whether the message is non-empty and every signal it
// carries is individually valid.
func (m MessageDescription) Valid() error {
	if m.UniqueId > 0x1FFFFFFF {
		return fmt.Errorf("candesc: message %q uniqueId 0x%X exceeds 29 bits", m.Name, m.UniqueId)
	}
	if m.Size < 0 || m.Size > 64 {
		return fmt.Errorf("candesc: message %q size %d out of range 0..64", m.Name, m.Size)
	}
	if len(m.Signals) == 0 {
		return fmt.Errorf("candesc: message %q has no signals", m.Name)
	}
	for name, s := range m.Signals {
		if err := s.Valid(); err != nil {
			return fmt.Errorf("candesc: message %q: %w", m.Name, err)
		}
		if s.Name != name {
			return fmt.Errorf("candesc: message %q: signal key %q does not match signal name %q", m.Name, name, s.Name)
		}
	}
	return nil
}
