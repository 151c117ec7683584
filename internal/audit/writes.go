package audit

import (
	"context"
	"fmt"
)

// LogModbusWrite appends a record of a changed Modbus register range,
// fire-and-forget from the caller's point of view: a server engine or
// REST handler calls this after a write has already taken effect in the
// data map, so a failure here is logged by the caller and dropped, never
// surfaced back to the bus protocol.
func (s *Store) LogModbusWrite(ctx context.Context, registerType string, start uint16, values []uint16, source string) error {
	u16 := make([]int32, len(values))
	for i, v := range values {
		u16[i] = int32(v)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO modbus_write_events (register_type, start_address, values, source)
		VALUES ($1, $2, $3, $4)
	`, registerType, start, u16, source)
	if err != nil {
		return fmt.Errorf("failed to log modbus write event: %w", err)
	}
	return nil
}
