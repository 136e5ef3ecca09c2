package amqp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RoutingKeyPrefix prefixes the routing key of every change event.
const RoutingKeyPrefix = "expense."

// ExpenseChangedMessage is a lightweight notification that an expense was
// written. Consumers fetch the record themselves if they need it.
type ExpenseChangedMessage struct {
	ID        int64     `json:"id"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseChangedMessage(id int64, operation string) *ExpenseChangedMessage {
	return &ExpenseChangedMessage{
		ID:        id,
		Operation: operation,
		Timestamp: time.Now().UTC(),
	}
}

// RoutingKey returns expense.<operation>.
func (m *ExpenseChangedMessage) RoutingKey() string {
	return RoutingKeyPrefix + m.Operation
}

func (m *ExpenseChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ToolCallRequest is the body of a message on the RPC queue.
type ToolCallRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallRequestFromJSON decodes a request keeping numbers as json.Number
// so amounts and ids are not rounded through float64 before validation.
func ToolCallRequestFromJSON(data []byte) (*ToolCallRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var req ToolCallRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode tool call: %w", err)
	}
	req.Tool = strings.TrimSpace(req.Tool)
	if req.Tool == "" {
		return nil, fmt.Errorf("decode tool call: tool name is required")
	}
	return &req, nil
}
