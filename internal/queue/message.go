package queue

import (
	"fmt"
	"strings"
)

// BatchChangeMessage is the broker payload asking a processor to work on one batch change.
type BatchChangeMessage struct {
	BatchChangeID string `json:"batchChangeId"`
	CorrelationID string `json:"correlationId,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

func (m BatchChangeMessage) Validate() error {
	if strings.TrimSpace(m.BatchChangeID) == "" {
		return fmt.Errorf("batchChangeId is required")
	}
	return nil
}
