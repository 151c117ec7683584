// Package canframe implements FrameProcessor: decoding a CanFrame into a
// named signal map and encoding a signal map back into a CanFrame, using
// the descriptions produced by internal/dbc or built programmatically.
package canframe

import (
	"fmt"
	"math"

	"github.com/canline/corebus/internal/bitcodec"
	"github.com/canline/corebus/internal/candesc"
)

// DecodeResult is the outcome of a successful Parse.
type DecodeResult struct {
	UniqueId  uint32
	SignalMap map[string]interface{}
}

// Processor decodes/encodes CAN frames against a fixed set of message
// descriptions, addressed by the given UniqueIdDescription.
type Processor struct {
	uniqueId candesc.UniqueIdDescription
	messages map[uint32]candesc.MessageDescription
	warnings []string
}

// NewProcessor builds a Processor from a uniqueId field description and
// the set of message descriptions it addresses, keyed by UniqueId.
func NewProcessor(uniqueId candesc.UniqueIdDescription, messages map[uint32]candesc.MessageDescription) *Processor {
	cp := make(map[uint32]candesc.MessageDescription, len(messages))
	for k, v := range messages {
		cp[k] = v
	}
	return &Processor{uniqueId: uniqueId, messages: cp}
}

// Warnings returns the non-fatal issues accumulated by the most recent
// Parse or Build call.
func (p *Processor) Warnings() []string {
	return p.warnings
}

func (p *Processor) warn(format string, args ...interface{}) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

// Message looks up one loaded message description by its unique ID.
func (p *Processor) Message(uniqueId uint32) (candesc.MessageDescription, bool) {
	m, ok := p.messages[uniqueId]
	return m, ok
}

// Messages returns a copy of every loaded message description, for
// introspection surfaces that need to list what a running instance knows
// about without reaching into its internals.
func (p *Processor) Messages() map[uint32]candesc.MessageDescription {
	cp := make(map[uint32]candesc.MessageDescription, len(p.messages))
	for k, v := range p.messages {
		cp[k] = v
	}
	return cp
}

// Parse decodes a CAN data frame into its unique ID and named signal map.
func (p *Processor) Parse(frame candesc.CanFrame) (DecodeResult, error) {
	p.warnings = nil

	if frame.FrameType != candesc.Data {
		return DecodeResult{}, &candesc.Error{Code: candesc.UnsupportedFrameFormat, Message: "frame is not a Data frame"}
	}

	uniqueId, err := p.uniqueId.Extract(frame.FrameId, frame.Payload)
	if err != nil {
		return DecodeResult{}, &candesc.Error{Code: candesc.Decoding, Message: err.Error()}
	}

	message, ok := p.messages[uniqueId]
	if !ok {
		return DecodeResult{}, &candesc.Error{Code: candesc.Decoding, Message: fmt.Sprintf("no message description for uniqueId 0x%X", uniqueId)}
	}

	if len(frame.Payload) != message.Size {
		return DecodeResult{}, &candesc.Error{Code: candesc.Decoding, Message: fmt.Sprintf("payload length %d does not match message size %d", len(frame.Payload), message.Size)}
	}

	results := make(map[string]interface{})
	numericResults := make(map[string]float64)
	pending := make(map[string]candesc.SignalDescription, len(message.Signals))
	for name, s := range message.Signals {
		pending[name] = s
	}

	for len(pending) > 0 {
		progressed := false
		for name, s := range pending {
			if s.MultiplexState == candesc.MultiplexedSignal && !s.Selectable(numericResults) {
				continue
			}
			value, numeric, err := p.decodeSignal(frame.Payload, s)
			if err != nil {
				p.warn("signal %q skipped: %v", name, err)
				delete(pending, name)
				progressed = true
				continue
			}
			results[name] = value
			if numeric != nil {
				numericResults[name] = *numeric
			}
			delete(pending, name)
			progressed = true
		}
		if !progressed {
			break // stagnation: remaining signals are unreachable, silently omitted
		}
	}

	return DecodeResult{UniqueId: uniqueId, SignalMap: results}, nil
}

// decodeSignal extracts and converts a single signal. numeric is non-nil
// whenever the decoded value participates in multiplexor comparisons
// (everything but AsciiString).
func (p *Processor) decodeSignal(payload []byte, s candesc.SignalDescription) (interface{}, *float64, error) {
	var buffer []byte
	switch s.DataSource {
	case candesc.SourcePayload:
		buffer = payload
	case candesc.SourceFrameId:
		return nil, nil, fmt.Errorf("FrameId-sourced signals are not supported by FrameProcessor")
	default:
		return nil, nil, fmt.Errorf("unknown data source")
	}

	raw, err := bitcodec.Extract(buffer, s.StartBit, s.BitLength, codecEndian(s.DataEndian), codecFormat(s.DataFormat))
	if err != nil {
		return nil, nil, err
	}

	switch s.DataFormat {
	case candesc.AsciiString:
		return string(raw.([]byte)), nil, nil
	case candesc.Float, candesc.Double:
		v := raw.(float64)
		physical := candesc.ToPhysical(v, s)
		return physical, &physical, nil
	case candesc.SignedInteger:
		v := raw.(int64)
		if candesc.HasConversion(s) {
			physical := candesc.ToPhysical(float64(v), s)
			return physical, &physical, nil
		}
		f := float64(v)
		return v, &f, nil
	case candesc.UnsignedInteger:
		v := raw.(uint64)
		if candesc.HasConversion(s) {
			physical := candesc.ToPhysical(float64(v), s)
			return physical, &physical, nil
		}
		f := float64(v)
		return v, &f, nil
	default:
		return nil, nil, fmt.Errorf("unknown data format")
	}
}

// Build encodes uniqueId and the given named signal values into a CAN
// data frame for message description keyed by uniqueId.
func (p *Processor) Build(uniqueId uint32, values map[string]interface{}) (candesc.CanFrame, error) {
	p.warnings = nil

	if !p.uniqueId.Valid() {
		return candesc.CanFrame{}, &candesc.Error{Code: candesc.Encoding, Message: "no valid UniqueIdDescription"}
	}

	message, ok := p.messages[uniqueId]
	if !ok {
		return candesc.CanFrame{}, &candesc.Error{Code: candesc.Encoding, Message: fmt.Sprintf("no message description for uniqueId 0x%X", uniqueId)}
	}

	payload := make([]byte, message.Size)
	var frameId uint32
	if err := p.uniqueId.Insert(uniqueId, &frameId, payload); err != nil {
		return candesc.CanFrame{}, &candesc.Error{Code: candesc.Encoding, Message: err.Error()}
	}

	// Resolve numeric values for multiplexor prerequisites first, so
	// encode order does not matter (prerequisites only need to be in the
	// caller-supplied map, not already-inserted).
	numericInputs := make(map[string]float64, len(values))
	for name, v := range values {
		if f, ok := toFloat(v); ok {
			numericInputs[name] = f
		}
	}

	for name, value := range values {
		s, ok := message.Signals[name]
		if !ok {
			p.warn("signal %q is not part of message %q, skipped", name, message.Name)
			continue
		}
		if s.MultiplexState == candesc.MultiplexedSignal && !s.Selectable(numericInputs) {
			p.warn("signal %q multiplexor prerequisites not satisfied, skipped", name)
			continue
		}
		if err := p.encodeSignal(payload, s, value); err != nil {
			p.warn("signal %q skipped: %v", name, err)
			continue
		}
	}

	extended := frameId > 0x7FF
	return candesc.CanFrame{
		FrameId:        frameId,
		ExtendedFormat: extended,
		FrameType:      candesc.Data,
		Payload:        payload,
	}, nil
}

func (p *Processor) encodeSignal(payload []byte, s candesc.SignalDescription, value interface{}) error {
	switch s.DataFormat {
	case candesc.AsciiString:
		data, ok := value.([]byte)
		if !ok {
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("expected []byte or string for AsciiString signal")
			}
			data = []byte(str)
		}
		return bitcodec.Insert(payload, s.StartBit, s.BitLength, codecEndian(s.DataEndian), bitcodec.AsciiString, data)
	case candesc.Float, candesc.Double:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected numeric value")
		}
		raw := candesc.ToRaw(f, s)
		return bitcodec.Insert(payload, s.StartBit, s.BitLength, codecEndian(s.DataEndian), codecFormat(s.DataFormat), raw)
	case candesc.SignedInteger:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected numeric value")
		}
		var raw int64
		if candesc.HasConversion(s) {
			raw = int64(math.Round(candesc.ToRaw(f, s)))
		} else {
			raw = int64(f)
		}
		return bitcodec.Insert(payload, s.StartBit, s.BitLength, codecEndian(s.DataEndian), bitcodec.SignedInteger, raw)
	case candesc.UnsignedInteger:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected numeric value")
		}
		var raw uint64
		if candesc.HasConversion(s) {
			raw = uint64(math.Round(candesc.ToRaw(f, s)))
		} else {
			raw = uint64(f)
		}
		return bitcodec.Insert(payload, s.StartBit, s.BitLength, codecEndian(s.DataEndian), bitcodec.UnsignedInteger, raw)
	default:
		return fmt.Errorf("unknown data format")
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint:
		return float64(v), true
	default:
		return 0, false
	}
}

func codecEndian(e candesc.DataEndian) bitcodec.Endian {
	if e == candesc.BigEndian {
		return bitcodec.Big
	}
	return bitcodec.Little
}

func codecFormat(f candesc.DataFormat) bitcodec.Format {
	switch f {
	case candesc.SignedInteger:
		return bitcodec.SignedInteger
	case candesc.UnsignedInteger:
		return bitcodec.UnsignedInteger
	case candesc.Float:
		return bitcodec.Float
	case candesc.Double:
		return bitcodec.Double
	case candesc.AsciiString:
		return bitcodec.AsciiString
	default:
		return bitcodec.UnsignedInteger
	}
}
