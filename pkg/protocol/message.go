// Package protocol defines the WebSocket messages exchanged between a Thymio
// client and a device manager.
// It is shared by the manager client (pkg/tdm) and the simulator (pkg/sim).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Manager requests
	TypeHello        MessageType = "hello"         // Authenticate the connection
	TypeListNodes    MessageType = "list_nodes"    // Request the node list
	TypeLock         MessageType = "lock"          // Acquire exclusive control of a node
	TypeUnlock       MessageType = "unlock"        // Release a node
	TypeCompile      MessageType = "compile"       // Compile a micro-program on a node
	TypeRun          MessageType = "run"           // Run the last compiled program
	TypeSetVariables MessageType = "set_variables" // Write node variables

	// Manager → Client replies and events
	TypeWelcome   MessageType = "welcome"   // Handshake accepted
	TypeNodes     MessageType = "nodes"     // Node list (reply or change event)
	TypeAck       MessageType = "ack"       // Request succeeded
	TypeError     MessageType = "error"     // Request failed
	TypeVariables MessageType = "variables" // Variable change notification
)

// Node statuses reported in NodeInfo.
const (
	StatusAvailable = "available"
	StatusBusy      = "busy"
)

// Message is the base wrapper for all WebSocket messages.
//
// Requests carry an ID; the manager echoes it on the matching ack or error.
// Events pushed by the manager have an empty ID.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Node      string          `json:"node,omitempty"` // Target or source node ID
	Timestamp int64           `json:"ts,omitempty"`   // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// IsReply reports whether the message answers a request.
func (m *Message) IsReply() bool {
	return m.ID != "" && (m.Type == TypeAck || m.Type == TypeError || m.Type == TypeNodes || m.Type == TypeWelcome)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// NodeInfo describes one node visible to the manager.
type NodeInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"` // "available", "busy"
}

// =============================================================================
// Client → Manager Message Types
// =============================================================================

// HelloData opens a session with the manager
type HelloData struct {
	Password string `json:"password,omitempty"`
	Client   string `json:"client,omitempty"`
}

// CompileData carries micro-program source
type CompileData struct {
	Program string `json:"program"`
}

// SetVariablesData carries variable writes
type SetVariablesData struct {
	Variables map[string][]int `json:"variables"`
}

// =============================================================================
// Manager → Client Message Types
// =============================================================================

// NodesData lists the nodes known to the manager
type NodesData struct {
	Nodes []NodeInfo `json:"nodes"`
}

// ErrorData explains a failed request
type ErrorData struct {
	Message string `json:"message"`
}

// VariablesData is one batch of changed variables
type VariablesData struct {
	Variables map[string][]float64 `json:"variables"`
}
