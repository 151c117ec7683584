package rest

import (
	"net/http"

	"github.com/canline/corebus/internal/modbus/datamap"
	"github.com/canline/corebus/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canline/corebus/internal/api/websocket"
)

// GET /api/v1/modbus/registers/:type
func (s *Server) readRegisters(c *gin.Context) {
	regType, err := datamap.ParseRegisterType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "unknown register type", err.Error()))
		return
	}

	start, count, ok := parseRange(c)
	if !ok {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "invalid start/count query parameters", nil))
		return
	}

	dm := s.modbusEngine.DataMap()

	if regType == datamap.Coils || regType == datamap.DiscreteInputs {
		bits, err := dm.BitRange(regType, start, count)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "read failed", err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"register_type": regType.String(), "start": start, "values": bits})
		return
	}

	values, err := dm.DataRange(regType, start, count)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "read failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"register_type": regType.String(), "start": start, "values": values})
}

type writeRegistersRequest struct {
	Start  uint16   `json:"start"`
	Values []uint16 `json:"values" binding:"required"`
}

// POST /api/v1/modbus/registers/:type
//
// Goes through Engine.DataMap().SetData/SetDataRange, the same storage a
// wire client's write request mutates, then fires the same DataWritten
// notification ProcessRequest would so audit logging and the websocket
// broadcast stay consistent regardless of which path produced the write.
func (s *Server) writeRegisters(c *gin.Context) {
	regType, err := datamap.ParseRegisterType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "unknown register type", err.Error()))
		return
	}
	if !regType.Writable() {
		c.JSON(http.StatusForbidden, types.NewErrorResponse("MODBUS_403", "register type is read-only", nil))
		return
	}

	var req writeRegistersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "invalid request body", err.Error()))
		return
	}

	dm := s.modbusEngine.DataMap()
	var changed bool
	if regType == datamap.Coils {
		bits := make([]bool, len(req.Values))
		for i, v := range req.Values {
			bits[i] = v != 0
		}
		changed, err = dm.SetBitRange(regType, req.Start, bits)
	} else {
		changed, err = dm.SetDataRange(regType, req.Start, req.Values)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MODBUS_400", "write failed", err.Error()))
		return
	}

	if changed {
		s.modbusEngine.NotifyWrite(regType, req.Start, req.Values)
		if s.auditStore != nil {
			username, _ := c.Get("username")
			source, _ := username.(string)
			if source == "" {
				source = "rest"
			}
			if err := s.auditStore.LogModbusWrite(c.Request.Context(), regType.String(), req.Start, req.Values, source); err != nil {
				s.logger.Warn("failed to log modbus write event", zap.Error(err))
			}
		}
		s.wsHub.Broadcast(websocket.NewWriteMessage(regType.String(), req.Start, req.Values))
	}

	c.JSON(http.StatusOK, gin.H{"message": "write accepted", "changed": changed})
}

// GET /api/v1/modbus/diagnostics
func (s *Server) getModbusDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, s.modbusEngine.Counters())
}

func parseRange(c *gin.Context) (start, count uint16, ok bool) {
	start64, err := parseQueryUint(c, "start", 0)
	if err != nil {
		return 0, 0, false
	}
	count64, err := parseQueryUint(c, "count", 1)
	if err != nil {
		return 0, 0, false
	}
	return uint16(start64), uint16(count64), true
}
