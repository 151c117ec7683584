package modbus

import (
	"github.com/canline/corebus/internal/modbus/datamap"
	"github.com/canline/corebus/internal/modbus/pdu"
)

// DataUnit is the transport-independent description of one Modbus read
// or write: which table, where, how many, and (for writes) the values.
type DataUnit struct {
	RegisterType datamap.RegisterType
	Start        uint16
	Count        uint16
	Values       []uint16 // write payload; nil for reads
}

func readFunctionCode(t datamap.RegisterType) (byte, bool) {
	switch t {
	case datamap.Coils:
		return pdu.ReadCoils, true
	case datamap.DiscreteInputs:
		return pdu.ReadDiscreteInputs, true
	case datamap.HoldingRegisters:
		return pdu.ReadHoldingRegisters, true
	case datamap.InputRegisters:
		return pdu.ReadInputRegisters, true
	default:
		return 0, false
	}
}

// EncodeReadRequest builds the request PDU for reading du.Count elements
// of du.RegisterType starting at du.Start.
func EncodeReadRequest(du DataUnit) (pdu.PDU, error) {
	fc, ok := readFunctionCode(du.RegisterType)
	if !ok {
		return pdu.PDU{}, newFault(ConfigurationError, "register type %s is not readable", du.RegisterType)
	}
	if du.RegisterType == datamap.Coils || du.RegisterType == datamap.DiscreteInputs {
		p, err := pdu.EncodeReadBitsRequest(fc, du.Start, du.Count)
		if err != nil {
			return pdu.PDU{}, newFault(ConfigurationError, "%v", err)
		}
		return p, nil
	}
	p, err := pdu.EncodeReadRegistersRequest(fc, du.Start, du.Count)
	if err != nil {
		return pdu.PDU{}, newFault(ConfigurationError, "%v", err)
	}
	return p, nil
}

// DecodeReadResponse converts a read response PDU back into the values
// requested for du's register type.
func DecodeReadResponse(du DataUnit, p pdu.PDU) (DataUnit, error) {
	out := du
	switch du.RegisterType {
	case datamap.Coils, datamap.DiscreteInputs:
		bits, err := pdu.DecodeReadBitsResponse(p, int(du.Count))
		if err != nil {
			return DataUnit{}, newFault(UnknownError, "%v", err)
		}
		values := make([]uint16, len(bits))
		for i, b := range bits {
			if b {
				values[i] = 1
			}
		}
		out.Values = values
	case datamap.HoldingRegisters, datamap.InputRegisters:
		values, err := pdu.DecodeReadRegistersResponse(p)
		if err != nil {
			return DataUnit{}, newFault(UnknownError, "%v", err)
		}
		out.Values = values
	default:
		return DataUnit{}, newFault(ConfigurationError, "register type %s is not readable", du.RegisterType)
	}
	return out, nil
}

// EncodeWriteRequest builds the request PDU for writing du.Values into
// du.RegisterType starting at du.Start, choosing WriteSingle* when a
// single value is given and WriteMultiple* otherwise.
func EncodeWriteRequest(du DataUnit) (pdu.PDU, error) {
	switch du.RegisterType {
	case datamap.Coils:
		if len(du.Values) == 1 {
			return pdu.EncodeWriteSingleCoilRequest(du.Start, du.Values[0] != 0), nil
		}
		bits := make([]bool, len(du.Values))
		for i, v := range du.Values {
			bits[i] = v != 0
		}
		p, err := pdu.EncodeWriteMultipleCoilsRequest(du.Start, bits)
		if err != nil {
			return pdu.PDU{}, newFault(ConfigurationError, "%v", err)
		}
		return p, nil
	case datamap.HoldingRegisters:
		if len(du.Values) == 1 {
			return pdu.EncodeWriteSingleRegisterRequest(du.Start, du.Values[0]), nil
		}
		p, err := pdu.EncodeWriteMultipleRegistersRequest(du.Start, du.Values)
		if err != nil {
			return pdu.PDU{}, newFault(ConfigurationError, "%v", err)
		}
		return p, nil
	default:
		return pdu.PDU{}, newFault(ConfigurationError, "register type %s is not writable", du.RegisterType)
	}
}

// DecodeWriteResponse validates a write response against the original
// request's addressing.
func DecodeWriteResponse(du DataUnit, p pdu.PDU) error {
	switch p.FunctionCode {
	case pdu.WriteSingleCoil:
		addr, _, err := pdu.DecodeWriteSingleCoilRequest(p)
		if err != nil {
			return newFault(UnknownError, "%v", err)
		}
		if addr != du.Start {
			return newFault(UnknownError, "write single coil echo address %d does not match request %d", addr, du.Start)
		}
	case pdu.WriteSingleRegister:
		addr, _, err := pdu.DecodeWriteSingleRegisterRequest(p)
		if err != nil {
			return newFault(UnknownError, "%v", err)
		}
		if addr != du.Start {
			return newFault(UnknownError, "write single register echo address %d does not match request %d", addr, du.Start)
		}
	case pdu.WriteMultipleCoils, pdu.WriteMultipleRegisters:
		start, count, err := pdu.DecodeWriteMultipleResponse(p)
		if err != nil {
			return newFault(UnknownError, "%v", err)
		}
		if start != du.Start || int(count) != len(du.Values) {
			return newFault(UnknownError, "write response start/count %d/%d does not match request %d/%d", start, count, du.Start, len(du.Values))
		}
	default:
		return newFault(UnknownError, "unexpected function code 0x%02X in write response", p.FunctionCode)
	}
	return nil
}

// EncodeReadWriteRequest builds a combined 0x17 request.
func EncodeReadWriteRequest(read, write DataUnit) (pdu.PDU, error) {
	p, err := pdu.EncodeReadWriteMultipleRegistersRequest(read.Start, read.Count, write.Start, write.Values)
	if err != nil {
		return pdu.PDU{}, newFault(ConfigurationError, "%v", err)
	}
	return p, nil
}

// DecodeReadWriteResponse decodes a combined 0x17 response into the
// registers read.
func DecodeReadWriteResponse(read DataUnit, p pdu.PDU) (DataUnit, error) {
	values, err := pdu.DecodeReadWriteMultipleRegistersResponse(p)
	if err != nil {
		return DataUnit{}, newFault(UnknownError, "%v", err)
	}
	out := read
	out.Values = values
	return out, nil
}
