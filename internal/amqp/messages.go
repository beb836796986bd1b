package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// EventExpenseCreated is announced after an expense is stored.
const EventExpenseCreated = "expense.created"

// ExpenseCreatedMessage carries only the new expense id; consumers read the
// row back from the ledger.
type ExpenseCreatedMessage struct {
	Event     string    `json:"event"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseCreatedMessage(id int64) *ExpenseCreatedMessage {
	return &ExpenseCreatedMessage{
		Event:     EventExpenseCreated,
		ID:        id,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseCreatedMessageFromJSON decodes and checks a message body.
func ExpenseCreatedMessageFromJSON(data []byte) (*ExpenseCreatedMessage, error) {
	var msg ExpenseCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Event != EventExpenseCreated {
		return nil, errors.New("unexpected event " + msg.Event)
	}
	if msg.ID <= 0 {
		return nil, errors.New("message has no expense id")
	}
	return &msg, nil
}
