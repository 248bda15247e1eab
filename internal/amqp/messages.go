package amqp

import (
	"encoding/json"
	"time"
)

// InvoiceStatusMessage signals that an invoice changed status. It carries
// only the id and version; the worker fetches the current invoice from the
// database, so a stale redelivery never applies old state.
type InvoiceStatusMessage struct {
	InvoiceID string    `json:"invoice_id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewInvoiceStatusMessage(invoiceID string, version int64) *InvoiceStatusMessage {
	return &InvoiceStatusMessage{
		InvoiceID: invoiceID,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func (m *InvoiceStatusMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func InvoiceStatusMessageFromJSON(data []byte) (*InvoiceStatusMessage, error) {
	var msg InvoiceStatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MovementCreatedMessage announces a freshly persisted movement for
// downstream consumers.
type MovementCreatedMessage struct {
	MovementID string    `json:"movement_id"`
	InvoiceID  string    `json:"invoice_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewMovementCreatedMessage(movementID, invoiceID string) *MovementCreatedMessage {
	return &MovementCreatedMessage{
		MovementID: movementID,
		InvoiceID:  invoiceID,
		Timestamp:  time.Now(),
	}
}

func (m *MovementCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MovementCreatedMessageFromJSON(data []byte) (*MovementCreatedMessage, error) {
	var msg MovementCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
