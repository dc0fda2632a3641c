package broker

import "encoding/json"

// Envelope wraps one stored event for the bus.
type Envelope struct {
	Version   int             `json:"version"`
	Kind      string          `json:"kind"`
	AccountID uint32          `json:"account_id"`
	Address   string          `json:"address"`
	EventID   uint64          `json:"event_id"`
	Height    uint64          `json:"height"`
	Payload   json.RawMessage `json:"payload"`
}
