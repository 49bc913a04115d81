package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "hello message",
			msgType: TypeHello,
			data:    HelloData{Password: "secret"},
			wantErr: false,
		},
		{
			name:    "variables message",
			msgType: TypeVariables,
			data:    VariablesData{Variables: map[string][]float64{"temperature": {21.5}}},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypeRun,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeCompile,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestSetVariablesRoundTrip(t *testing.T) {
	vars := map[string][]int{
		"motor.left.target":  {250},
		"motor.right.target": {-250},
	}

	msg, err := NewSetVariablesMessage("req-1", "node-1", vars)
	if err != nil {
		t.Fatalf("NewSetVariablesMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if parsed.Type != TypeSetVariables {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeSetVariables)
	}
	if parsed.ID != "req-1" || parsed.Node != "node-1" {
		t.Errorf("ID/Node = %q/%q, want req-1/node-1", parsed.ID, parsed.Node)
	}

	data, err := parsed.GetSetVariablesData()
	if err != nil {
		t.Fatalf("GetSetVariablesData() error = %v", err)
	}
	if data.Variables["motor.left.target"][0] != 250 {
		t.Errorf("motor.left.target = %v, want 250", data.Variables["motor.left.target"])
	}
	if data.Variables["motor.right.target"][0] != -250 {
		t.Errorf("motor.right.target = %v, want -250", data.Variables["motor.right.target"])
	}
}

func TestCompileMessage(t *testing.T) {
	msg, err := NewCompileMessage("req-2", "node-1", "call leds.top(32, 0, 0)")
	if err != nil {
		t.Fatalf("NewCompileMessage() error = %v", err)
	}

	data, err := msg.GetCompileData()
	if err != nil {
		t.Fatalf("GetCompileData() error = %v", err)
	}
	if data.Program != "call leds.top(32, 0, 0)" {
		t.Errorf("Program = %q", data.Program)
	}
}

func TestNodesMessage(t *testing.T) {
	nodes := []NodeInfo{
		{ID: "a", Name: "thymio-a", Status: StatusAvailable},
		{ID: "b", Name: "thymio-b", Status: StatusBusy},
	}

	msg, err := NewWelcomeMessage("hello-1", nodes)
	if err != nil {
		t.Fatalf("NewWelcomeMessage() error = %v", err)
	}

	data, err := msg.GetNodesData()
	if err != nil {
		t.Fatalf("GetNodesData() error = %v", err)
	}
	if len(data.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(data.Nodes))
	}
	if data.Nodes[1].Status != StatusBusy {
		t.Errorf("Nodes[1].Status = %v, want busy", data.Nodes[1].Status)
	}
	if !msg.IsReply() {
		t.Error("welcome with an ID should be a reply")
	}

	event, _ := NewNodesMessage("", nodes)
	if event.IsReply() {
		t.Error("nodes event without an ID should not be a reply")
	}
}

func TestErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage("req-3", "node-1", "node busy")
	if err != nil {
		t.Fatalf("NewErrorMessage() error = %v", err)
	}

	data, err := msg.GetErrorData()
	if err != nil {
		t.Fatalf("GetErrorData() error = %v", err)
	}
	if data.Message != "node busy" {
		t.Errorf("Message = %q, want node busy", data.Message)
	}
	if !msg.IsReply() {
		t.Error("error should be a reply")
	}
}

func TestVariablesMessage(t *testing.T) {
	msg, err := NewVariablesMessage("node-1", map[string][]float64{
		"prox.horizontal": {0, 0, 4100, 0, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("NewVariablesMessage() error = %v", err)
	}
	if msg.ID != "" {
		t.Errorf("ID = %q, events carry no ID", msg.ID)
	}
	if msg.IsReply() {
		t.Error("variables event should not be a reply")
	}

	data, err := msg.GetVariablesData()
	if err != nil {
		t.Fatalf("GetVariablesData() error = %v", err)
	}
	if got := data.Variables["prox.horizontal"]; len(got) != 7 || got[2] != 4100 {
		t.Errorf("prox.horizontal = %v", got)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   "{}",
			wantErr: true,
		},
		{
			name:    "valid message",
			input:   `{"type":"run","id":"x","node":"n","ts":1234567890}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	// Verify JSON structure matches expected format
	msg, _ := NewLockMessage("req-4", "node-1")

	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}

	if parsed["type"] != "lock" {
		t.Errorf("type = %v, want lock", parsed["type"])
	}
	if parsed["id"] != "req-4" {
		t.Errorf("id = %v, want req-4", parsed["id"])
	}
	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}
	if _, ok := parsed["data"]; ok {
		t.Error("data field should be omitted for lock")
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewVariablesMessage("node-1", map[string][]float64{
		"prox.horizontal": {0, 0, 0, 0, 0, 0, 0},
		"temperature":     {21},
	})
	bytes, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(bytes)
	}
}
