package models

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoinScript   = "joinScript"
	EventScriptUpdate = "scriptUpdate"
	EventLeaveScript  = "leaveScript"
)

// Outbound event names.
const (
	EventUserJoined    = "userJoined"
	EventUserLeft      = "userLeft"
	EventScriptUpdated = "scriptUpdated"
)

// WSFrame is the envelope written to clients.
type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame is the envelope read from clients; Data is decoded per event type.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

/*** Inbound payloads ***/
type JoinScript struct {
	ScriptID string `json:"scriptId"`
	UserID   string `json:"userId"` // client supplied, display only
}

// UnmarshalJSON also accepts a bare script id string.
func (j *JoinScript) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*j = JoinScript{ScriptID: id}
		return nil
	}
	type plain JoinScript
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*j = JoinScript(p)
	return nil
}

// ScriptUpdate carries editor state that is relayed untouched, so Content and
// CursorPosition stay raw JSON of whatever shape the client sent.
type ScriptUpdate struct {
	ScriptID       string          `json:"scriptId"`
	Content        json.RawMessage `json:"content"`
	CursorPosition json.RawMessage `json:"cursorPosition"`
}

type LeaveScript struct {
	ScriptID string `json:"scriptId"`
}

/*** Outbound payloads ***/

// MembershipChange is the body of userJoined and userLeft; UserID is the connection id.
type MembershipChange struct {
	UserID      string   `json:"userId"`
	ActiveUsers []string `json:"activeUsers"`
}

// ScriptUpdated is the relay of a ScriptUpdate. Absent fields marshal as null.
type ScriptUpdated struct {
	UserID         string          `json:"userId"`
	Content        json.RawMessage `json:"content"`
	CursorPosition json.RawMessage `json:"cursorPosition"`
}

/*** Presence notifications published outside the process ***/
type PresenceType string

const (
	PresenceJoined PresenceType = "joined"
	PresenceLeft   PresenceType = "left"
)

type PresenceEvent struct {
	Type         PresenceType `json:"type"`
	ScriptID     string       `json:"scriptId"`
	ConnectionID string       `json:"connectionId"`
	ActiveUsers  []string     `json:"activeUsers"`
	InstanceID   string       `json:"instanceId"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Stats is a point-in-time view of the collaboration state.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

type Collaborators struct {
	ScriptID    string   `json:"scriptId"`
	ActiveUsers []string `json:"activeUsers"`
}
