package transfer

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewSpecialID returns a random positive transfer identifier derived from a
// version 4 UUID.
func NewSpecialID() int64 {
	u := uuid.New()
	id := int64(binary.BigEndian.Uint64(u[:8]) & 0x7fffffffffffffff)
	if id == 0 {
		return 1
	}
	return id
}
