package deadletter

import (
	"encoding/json"
	"time"
)

// Letter is a job that exhausted its attempts, kept with the payload that
// failed so an operator can inspect it or publish it again.
type Letter struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	DocumentKey string          `json:"document_key"`
	OwnerID     string          `json:"owner_id"`
	Reason      string          `json:"reason"`
	Error       string          `json:"error"`
	Attempts    int             `json:"attempts"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}
