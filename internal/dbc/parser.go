// Package dbc parses Vector DBC description files into
// candesc.MessageDescription values consumed by internal/canframe.
package dbc

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/canline/corebus/internal/candesc"
)

var (
	identifier = `[_[:alpha:]][_[:alnum:]]*`

	boRe = regexp.MustCompile(`^BO_\s+(\d+)\s+(` + identifier + `)\s*:\s*(\d+)\s+(\S+)\s*$`)
	sgRe = regexp.MustCompile(`^SG_\s+(` + identifier + `)\s*(M|m\d+M?)?\s*:\s*(\d+)\|(\d+)@([01])([+-])\s*` +
		`\(([^,]+),([^)]+)\)\s*\[([^|\]]*)\|([^\]]*)\]\s*"([^"]*)"\s*(.*)$`)
	sigValTypeRe = regexp.MustCompile(`^SIG_VALTYPE_\s+(\d+)\s+(` + identifier + `)\s*:\s*(\d+)\s*;?\s*$`)
	cmBoRe       = regexp.MustCompile(`^CM_\s+BO_\s+(\d+)\s+"((?:[^"\\]|\\.)*)"\s*;\s*$`)
	cmSgRe       = regexp.MustCompile(`^CM_\s+SG_\s+(\d+)\s+(` + identifier + `)\s+"((?:[^"\\]|\\.)*)"\s*;\s*$`)
	sgMulValRe   = regexp.MustCompile(`^SG_MUL_VAL_\s+(\d+)\s+(` + identifier + `)\s+(` + identifier + `)\s+(.+?)\s*;\s*$`)
	valRe        = regexp.MustCompile(`^VAL_\s+(\d+)\s+(` + identifier + `)\s+(.+?)\s*;\s*$`)
	valPairRe    = regexp.MustCompile(`(-?\d+)\s+"((?:[^"\\]|\\.)*)"`)
	rangeRe      = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*-\s*(-?\d+(?:\.\d+)?)`)
)

// Result is the product of a successful or partially-successful Parse:
// every message description that survived parsing, plus accumulated
// per-record warnings.
type Result struct {
	Messages map[uint32]candesc.MessageDescription
	Warnings []string
}

// Parser holds the transient state of one DBC file parse.
type Parser struct {
	messages        map[uint32]*candesc.MessageDescription
	order           []uint32 // preserves BO_ declaration order, informational
	currentMsgID    uint32
	haveCurrent     bool
	extraDataOpened bool
	usesExtendedMux map[uint32]bool
	explicitMuxSet  map[uint32]map[string]bool // message -> signal names with an SG_MUL_VAL_ override
	warnings        []string
	lineNum         int
}

// UniqueIdDescription returns the fixed DBC addressing description:
// source=FrameId, little-endian, startBit=0, bitLength=29.
func UniqueIdDescription() candesc.UniqueIdDescription {
	return candesc.DbcUniqueIdDescription()
}

// Parse reads a DBC file from r and returns the message descriptions it
// produced. Malformed individual records are warnings, not errors; only
// I/O failures and out-of-order BO_/SG_ records after extra-data records
// halt parsing with an *Error.
func Parse(r io.Reader) (Result, error) {
	p := &Parser{
		messages:        make(map[uint32]*candesc.MessageDescription),
		usesExtendedMux: make(map[uint32]bool),
		explicitMuxSet:  make(map[uint32]map[string]bool),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if err := p.parseLine(trimmed); err != nil {
			return Result{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, &Error{Code: FileReading, Message: err.Error()}
	}

	p.resolveSimpleMultiplexing()
	p.dropIncompleteExtendedMuxMessages()

	out := make(map[uint32]candesc.MessageDescription, len(p.messages))
	for id, m := range p.messages {
		out[id] = *m
	}
	return Result{Messages: out, Warnings: p.warnings}, nil
}

func (p *Parser) warn(format string, args ...interface{}) {
	p.warnings = append(p.warnings, fmt.Sprintf("line %d: %s", p.lineNum, fmt.Sprintf(format, args...)))
}

func (p *Parser) parseLine(line string) error {
	switch {
	case strings.HasPrefix(line, "BO_ "):
		if p.extraDataOpened {
			return &Error{Code: Parsing, Message: "BO_ record after extra-data records", Line: p.lineNum}
		}
		p.parseBO(line)
	case strings.HasPrefix(line, "SG_ "):
		if p.extraDataOpened {
			return &Error{Code: Parsing, Message: "SG_ record after extra-data records", Line: p.lineNum}
		}
		p.parseSG(line)
	case strings.HasPrefix(line, "SIG_VALTYPE_"):
		p.extraDataOpened = true
		p.parseSigValType(line)
	case strings.HasPrefix(line, "CM_ BO_"):
		p.extraDataOpened = true
		p.parseCmBo(line)
	case strings.HasPrefix(line, "CM_ SG_"):
		p.extraDataOpened = true
		p.parseCmSg(line)
	case strings.HasPrefix(line, "SG_MUL_VAL_"):
		p.extraDataOpened = true
		p.parseSgMulVal(line)
	case strings.HasPrefix(line, "VAL_ "):
		p.extraDataOpened = true
		p.parseVal(line)
	default:
		// unrecognised record kinds (BU_, BS_, NS_, VERSION, ...) are
		// ignored: they carry no codec-relevant information.
	}
	return nil
}

func (p *Parser) parseBO(line string) {
	m := boRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed BO_ record: %q", line)
		p.haveCurrent = false
		return
	}
	id64, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		p.warn("malformed BO_ id: %v", err)
		p.haveCurrent = false
		return
	}
	size, err := strconv.Atoi(m[3])
	if err != nil {
		p.warn("malformed BO_ size: %v", err)
		p.haveCurrent = false
		return
	}
	id := uint32(id64)
	msg := candesc.NewMessageDescription(id, m[2], size)
	msg.Transmitter = m[4]
	p.messages[id] = &msg
	p.order = append(p.order, id)
	p.currentMsgID = id
	p.haveCurrent = true
}

func (p *Parser) parseSG(line string) {
	if !p.haveCurrent {
		p.warn("SG_ record with no open BO_: %q", line)
		return
	}
	m := sgRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed SG_ record: %q", line)
		return
	}
	name := m[1]
	muxToken := m[2]
	startBit, err1 := strconv.Atoi(m[3])
	bitLength, err2 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil {
		p.warn("malformed SG_ start/length for %q", name)
		return
	}
	endianByte := m[5]
	signByte := m[6]
	factor, err3 := strconv.ParseFloat(strings.TrimSpace(m[7]), 64)
	offset, err4 := strconv.ParseFloat(strings.TrimSpace(m[8]), 64)
	if err3 != nil || err4 != nil {
		p.warn("malformed SG_ factor/offset for %q", name)
		return
	}
	minimum, _ := strconv.ParseFloat(strings.TrimSpace(m[9]), 64)
	maximum, _ := strconv.ParseFloat(strings.TrimSpace(m[10]), 64)
	unit := m[11]
	receivers := splitReceivers(m[12])

	endian := candesc.LittleEndian
	if endianByte == "0" {
		endian = candesc.BigEndian
	}
	format := candesc.UnsignedInteger
	if signByte == "-" {
		format = candesc.SignedInteger
	}

	s := candesc.NewSignalDescription(name, candesc.SourcePayload, startBit, bitLength, format, endian)
	s = s.WithFactor(factor)
	s.Offset = offset
	s.Minimum = minimum
	s.Maximum = maximum
	s.Unit = unit
	s.Receivers = receivers
	s.Transmitter = p.messages[p.currentMsgID].Transmitter

	switch {
	case muxToken == "M":
		s.MultiplexState = candesc.MultiplexorSwitch
	case muxToken == "":
		s.MultiplexState = candesc.MultiplexNone
	default:
		// m<N> or m<N>M
		isSwitchToo := strings.HasSuffix(muxToken, "M")
		numStr := strings.TrimSuffix(strings.TrimPrefix(muxToken, "m"), "M")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			p.warn("malformed multiplexor indicator %q on signal %q", muxToken, name)
			return
		}
		if isSwitchToo {
			s.MultiplexState = candesc.SwitchAndSignal
		} else {
			s.MultiplexState = candesc.MultiplexedSignal
		}
		s.MultiplexValue = n
		// Placeholder dependency on "" (the sole switch in this
		// message), replaced in resolveSimpleMultiplexing unless a
		// later SG_MUL_VAL_ record overrides it explicitly.
		s.MultiplexSignals = map[string][]candesc.Range{
			"": {{Min: float64(n), Max: float64(n)}},
		}
	}

	if err := s.Valid(); err != nil {
		p.warn("invalid signal %q: %v", name, err)
		return
	}

	p.messages[p.currentMsgID].AddSignal(s)
}

func splitReceivers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *Parser) parseSigValType(line string) {
	m := sigValTypeRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed SIG_VALTYPE_ record: %q", line)
		return
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		p.warn("malformed SIG_VALTYPE_ id: %v", err)
		return
	}
	msg, ok := p.messages[uint32(id)]
	if !ok {
		p.warn("SIG_VALTYPE_ references unknown message id %s", m[1])
		return
	}
	name := m[2]
	s, ok := msg.Signals[name]
	if !ok {
		p.warn("SIG_VALTYPE_ references unknown signal %q", name)
		return
	}
	switch m[3] {
	case "1":
		if s.BitLength != 32 {
			p.warn("SIG_VALTYPE_ float32 override on %q requires bitLength=32, got %d", name, s.BitLength)
			return
		}
		s.DataFormat = candesc.Float
	case "2":
		if s.BitLength != 64 {
			p.warn("SIG_VALTYPE_ double64 override on %q requires bitLength=64, got %d", name, s.BitLength)
			return
		}
		s.DataFormat = candesc.Double
	default:
		p.warn("unknown SIG_VALTYPE_ type %q on %q", m[3], name)
		return
	}
	msg.Signals[name] = s
}

func (p *Parser) parseCmBo(line string) {
	m := cmBoRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed CM_ BO_ record: %q", line)
		return
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		p.warn("malformed CM_ BO_ id: %v", err)
		return
	}
	msg, ok := p.messages[uint32(id)]
	if !ok {
		p.warn("CM_ BO_ references unknown message id %s", m[1])
		return
	}
	msg.Comment = unescapeQuoted(m[2])
}

func (p *Parser) parseCmSg(line string) {
	m := cmSgRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed CM_ SG_ record: %q", line)
		return
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		p.warn("malformed CM_ SG_ id: %v", err)
		return
	}
	msg, ok := p.messages[uint32(id)]
	if !ok {
		p.warn("CM_ SG_ references unknown message id %s", m[1])
		return
	}
	name := m[2]
	s, ok := msg.Signals[name]
	if !ok {
		p.warn("CM_ SG_ references unknown signal %q", name)
		return
	}
	s.Comment = unescapeQuoted(m[3])
	msg.Signals[name] = s
}

func (p *Parser) parseSgMulVal(line string) {
	m := sgMulValRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed SG_MUL_VAL_ record: %q", line)
		return
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		p.warn("malformed SG_MUL_VAL_ id: %v", err)
		return
	}
	msgID := uint32(id)
	msg, ok := p.messages[msgID]
	if !ok {
		p.warn("SG_MUL_VAL_ references unknown message id %s", m[1])
		return
	}
	name := m[2]
	switchName := m[3]
	s, ok := msg.Signals[name]
	if !ok {
		p.warn("SG_MUL_VAL_ references unknown signal %q", name)
		return
	}

	var ranges []candesc.Range
	for _, rm := range rangeRe.FindAllStringSubmatch(m[4], -1) {
		lo, err1 := strconv.ParseFloat(rm[1], 64)
		hi, err2 := strconv.ParseFloat(rm[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		ranges = append(ranges, candesc.Range{Min: lo, Max: hi})
	}
	if len(ranges) == 0 {
		p.warn("SG_MUL_VAL_ for %q has no parsable ranges", name)
		return
	}

	s.MultiplexSignals = map[string][]candesc.Range{switchName: ranges}
	if s.MultiplexState == candesc.MultiplexNone {
		s.MultiplexState = candesc.MultiplexedSignal
	}
	msg.Signals[name] = s

	p.usesExtendedMux[msgID] = true
	if p.explicitMuxSet[msgID] == nil {
		p.explicitMuxSet[msgID] = make(map[string]bool)
	}
	p.explicitMuxSet[msgID][name] = true
}

func (p *Parser) parseVal(line string) {
	m := valRe.FindStringSubmatch(line)
	if m == nil {
		p.warn("malformed VAL_ record: %q", line)
		return
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		p.warn("malformed VAL_ id: %v", err)
		return
	}
	msg, ok := p.messages[uint32(id)]
	if !ok {
		p.warn("VAL_ references unknown message id %s", m[1])
		return
	}
	name := m[2]
	s, ok := msg.Signals[name]
	if !ok {
		p.warn("VAL_ references unknown signal %q", name)
		return
	}
	var values []candesc.ValueDescription
	for _, pm := range valPairRe.FindAllStringSubmatch(m[3], -1) {
		raw, err := strconv.ParseInt(pm[1], 10, 64)
		if err != nil {
			continue
		}
		values = append(values, candesc.ValueDescription{RawValue: raw, Label: unescapeQuoted(pm[2])})
	}
	s.ValueDescriptions = values
	msg.Signals[name] = s
}

func unescapeQuoted(s string) string {
	return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(s)
}

// resolveSimpleMultiplexing replaces the "" placeholder dependency left
// by simple (non-extended) multiplexor indicators with the name of the
// sole MultiplexorSwitch/SwitchAndSignal signal in the same message.
func (p *Parser) resolveSimpleMultiplexing() {
	for msgID, msg := range p.messages {
		var soleSwitch string
		switchCount := 0
		for _, s := range msg.Signals {
			if s.MultiplexState == candesc.MultiplexorSwitch || s.MultiplexState == candesc.SwitchAndSignal {
				soleSwitch = s.Name
				switchCount++
			}
		}
		for name, s := range msg.Signals {
			if s.MultiplexState != candesc.MultiplexedSignal && s.MultiplexState != candesc.SwitchAndSignal {
				continue
			}
			if p.explicitMuxSet[msgID][name] {
				continue // already resolved via SG_MUL_VAL_
			}
			ranges, hasPlaceholder := s.MultiplexSignals[""]
			if !hasPlaceholder {
				continue
			}
			if switchCount != 1 {
				// Can't resolve which signal gates this one: leave the
				// unresolvable placeholder in place rather than dropping
				// it, so Selectable never falls back to "always true".
				p.warn("message %q signal %q uses simple multiplexing but message has %d switch signals", msg.Name, name, switchCount)
				continue
			}
			delete(s.MultiplexSignals, "")
			s.MultiplexSignals[soleSwitch] = ranges
			msg.Signals[name] = s
		}
	}
}

// dropIncompleteExtendedMuxMessages removes, with a warning, every
// message that uses extended multiplexing (has at least one
// SG_MUL_VAL_ record) but leaves some MultiplexedSignal uncovered.
func (p *Parser) dropIncompleteExtendedMuxMessages() {
	for msgID, extended := range p.usesExtendedMux {
		if !extended {
			continue
		}
		msg, ok := p.messages[msgID]
		if !ok {
			continue
		}
		complete := true
		for name, s := range msg.Signals {
			if s.MultiplexState != candesc.MultiplexedSignal && s.MultiplexState != candesc.SwitchAndSignal {
				continue
			}
			if !p.explicitMuxSet[msgID][name] {
				complete = false
				break
			}
		}
		if !complete {
			p.warn("message %q dropped: extended multiplexing used but not every multiplexed signal has an SG_MUL_VAL_ record", msg.Name)
			delete(p.messages, msgID)
		}
	}
}
