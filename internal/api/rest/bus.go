package rest

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/canline/corebus/internal/candesc"
	"github.com/canline/corebus/internal/types"
	"github.com/gin-gonic/gin"
)

type signalSummary struct {
	Name           string `json:"name"`
	StartBit       int    `json:"start_bit"`
	BitLength      int    `json:"bit_length"`
	MultiplexState string `json:"multiplex_state,omitempty"`
}

type messageSummary struct {
	UniqueId uint32          `json:"unique_id"`
	Name     string          `json:"name"`
	Size     int             `json:"size"`
	Signals  []signalSummary `json:"signals"`
}

// GET /api/v1/bus/messages
func (s *Server) listBusMessages(c *gin.Context) {
	messages := s.busProcessor.Messages()

	out := make([]messageSummary, 0, len(messages))
	for _, m := range messages {
		out = append(out, summariseMessage(m))
	}

	c.JSON(http.StatusOK, gin.H{"messages": out, "count": len(out)})
}

type valueLabel struct {
	RawValue int64  `json:"raw_value"`
	Label    string `json:"label"`
}

type multiplexRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type signalDetail struct {
	signalSummary
	Factor            float64                     `json:"factor,omitempty"`
	Offset            float64                     `json:"offset,omitempty"`
	Unit              string                      `json:"unit,omitempty"`
	MultiplexValue    int                         `json:"multiplex_value,omitempty"`
	MultiplexRanges   map[string][]multiplexRange `json:"multiplex_ranges,omitempty"`
	ValueDescriptions []valueLabel                `json:"value_descriptions,omitempty"`
	Comment           string                      `json:"comment,omitempty"`
}

// GET /api/v1/bus/messages/:id
func (s *Server) getBusMessage(c *gin.Context) {
	uniqueId, err := parseUniqueId(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("BUS_400", "invalid message id", err.Error()))
		return
	}

	message, ok := s.busProcessor.Message(uniqueId)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("BUS_404", "message not found", nil))
		return
	}

	signals := make([]signalDetail, 0, len(message.Signals))
	for _, sig := range message.Signals {
		detail := signalDetail{
			signalSummary: signalSummary{
				Name:           sig.Name,
				StartBit:       sig.StartBit,
				BitLength:      sig.BitLength,
				MultiplexState: multiplexStateName(sig.MultiplexState),
			},
			Factor:         sig.Factor,
			Offset:         sig.Offset,
			Unit:           sig.Unit,
			MultiplexValue: sig.MultiplexValue,
			Comment:        sig.Comment,
		}
		if len(sig.MultiplexSignals) > 0 {
			detail.MultiplexRanges = make(map[string][]multiplexRange, len(sig.MultiplexSignals))
			for switchName, ranges := range sig.MultiplexSignals {
				rs := make([]multiplexRange, len(ranges))
				for i, r := range ranges {
					rs[i] = multiplexRange{Min: r.Min, Max: r.Max}
				}
				detail.MultiplexRanges[switchName] = rs
			}
		}
		for _, vd := range sig.ValueDescriptions {
			detail.ValueDescriptions = append(detail.ValueDescriptions, valueLabel{RawValue: vd.RawValue, Label: vd.Label})
		}
		signals = append(signals, detail)
	}

	c.JSON(http.StatusOK, gin.H{
		"unique_id": message.UniqueId,
		"name":      message.Name,
		"size":      message.Size,
		"comment":   message.Comment,
		"signals":   signals,
	})
}

type decodeRequest struct {
	FrameIdHex     string `json:"frame_id_hex" binding:"required"`
	ExtendedFormat bool   `json:"extended_format"`
	PayloadHex     string `json:"payload_hex" binding:"required"`
}

// POST /api/v1/bus/decode
func (s *Server) decodeFrame(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("BUS_400", "invalid request body", err.Error()))
		return
	}

	frameId, err := strconv.ParseUint(req.FrameIdHex, 16, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("BUS_400", "invalid frame_id_hex", err.Error()))
		return
	}

	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("BUS_400", "invalid payload_hex", err.Error()))
		return
	}

	frame := candesc.CanFrame{
		FrameId:        uint32(frameId),
		ExtendedFormat: req.ExtendedFormat,
		FrameType:      candesc.Data,
		Payload:        payload,
	}

	result, err := s.busProcessor.Parse(frame)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("BUS_422", "decode failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unique_id":  result.UniqueId,
		"signals":    result.SignalMap,
		"warnings":   s.busProcessor.Warnings(),
	})
}

func summariseMessage(m candesc.MessageDescription) messageSummary {
	signals := make([]signalSummary, 0, len(m.Signals))
	for _, sig := range m.Signals {
		signals = append(signals, signalSummary{
			Name:           sig.Name,
			StartBit:       sig.StartBit,
			BitLength:      sig.BitLength,
			MultiplexState: multiplexStateName(sig.MultiplexState),
		})
	}
	return messageSummary{
		UniqueId: m.UniqueId,
		Name:     m.Name,
		Size:     m.Size,
		Signals:  signals,
	}
}

func multiplexStateName(s candesc.MultiplexState) string {
	switch s {
	case candesc.MultiplexorSwitch:
		return "switch"
	case candesc.MultiplexedSignal:
		return "multiplexed"
	case candesc.SwitchAndSignal:
		return "switch_and_signal"
	default:
		return ""
	}
}

func parseUniqueId(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		// Accept 0x-prefixed hex too, matching how unique IDs are usually
		// quoted in DBC-derived tooling.
		v, err = strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, err
		}
	}
	return uint32(v), nil
}
