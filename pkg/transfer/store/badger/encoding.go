package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// ============================================================================
// Key Namespace
// ============================================================================
//
// Data Type     Prefix   Key Format                                Value Type
// ==============================================================================
// Descriptor    "t:"     t:<requested> <requester> <specialID>     Descriptor (JSON)
// Host          "h:"     h:<hostID>                                hostRecord (JSON)

const (
	prefixDescriptor = "t:"
	prefixHost       = "h:"
)

func keyDescriptor(specialID int64, requester, requested string) []byte {
	return []byte(prefixDescriptor + transfer.TransferKey(requested, requester, specialID))
}

func keyHost(hostID string) []byte {
	return []byte(prefixHost + hostID)
}

// ============================================================================
// Value Encoding
// ============================================================================

func encodeDescriptor(d *transfer.Descriptor) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode descriptor: %w", err)
	}
	return data, nil
}

func decodeDescriptor(data []byte) (*transfer.Descriptor, error) {
	var d transfer.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	d.SetThrough(d.Requested == d.Owner)
	return &d, nil
}

// hostRecord persists the key hash that Host hides from JSON.
type hostRecord struct {
	*transfer.Host
	KeyHash string `json:"key_hash"`
}

func encodeHost(h *transfer.Host) ([]byte, error) {
	data, err := json.Marshal(hostRecord{Host: h, KeyHash: h.KeyHash})
	if err != nil {
		return nil, fmt.Errorf("failed to encode host: %w", err)
	}
	return data, nil
}

func decodeHost(data []byte) (*transfer.Host, error) {
	rec := hostRecord{Host: &transfer.Host{}}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode host: %w", err)
	}
	rec.Host.KeyHash = rec.KeyHash
	return rec.Host, nil
}
