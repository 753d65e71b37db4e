package server

import (
	"encoding/json"
	"fmt"

	"rgblight/internal/core"
)

// Command types accepted from WebSocket clients.
const (
	CmdWrite          = "write"
	CmdRunScript      = "run_script"
	CmdStopScript     = "stop_script"
	CmdAddSchedule    = "schedule_add"
	CmdRemoveSchedule = "schedule_remove"
)

// Message types sent to WebSocket clients.
const (
	MsgState        = "state"
	MsgNotify       = "notify"
	MsgScheduleList = "schedule_list"
	MsgError        = "error"
)

// Command represents an incoming JSON command from a WebSocket client, e.g.
// {"type":"write","attribute":"mode","value":[1]}.
type Command struct {
	Type      string `json:"type"`
	Attribute string `json:"attribute,omitempty"`
	Value     []int  `json:"value,omitempty"`
	Name      string `json:"name,omitempty"`
	Spec      string `json:"spec,omitempty"`
	Script    string `json:"script,omitempty"`
	ID        int    `json:"id,omitempty"`
}

// DecodeCommand parses one client frame.
func DecodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("invalid command: missing type")
	}
	return cmd, nil
}

// Endpoint resolves a write command into an attribute and wire bytes.
func (c Command) Endpoint() (core.Attribute, []byte, error) {
	attr, err := core.ParseAttribute(c.Attribute)
	if err != nil {
		return 0, nil, err
	}
	data := make([]byte, len(c.Value))
	for i, v := range c.Value {
		if v < 0 || v > 255 {
			return 0, nil, fmt.Errorf("value[%d] = %d is not a byte", i, v)
		}
		data[i] = byte(v)
	}
	return attr, data, nil
}

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload interface{}) Message {
	return Message{Type: msgType, Payload: payload}
}

// AttributeValue is the JSON form of one attribute's readable value. Bytes
// are sent as numbers rather than base64.
type AttributeValue struct {
	Attribute string `json:"attribute"`
	Value     []int  `json:"value"`
}

func newAttributeValue(attr core.Attribute, value []byte) AttributeValue {
	ints := make([]int, len(value))
	for i, b := range value {
		ints[i] = int(b)
	}
	return AttributeValue{Attribute: attr.String(), Value: ints}
}
