package collab

import (
	"encoding/json"

	"craft/collab/internal/models"
)

// Event is one input to the coordinator loop. The set of variants is closed.
type Event interface {
	kind() string
}

// Peer is the coordinator's view of a connection.
type Peer interface {
	ID() string
	Send(models.WSFrame) error
}

type Connected struct {
	Peer Peer
}

type JoinRequested struct {
	ConnID  string
	Payload models.JoinScript
}

type UpdateReceived struct {
	ConnID  string
	Payload models.ScriptUpdate
}

type LeaveRequested struct {
	ConnID  string
	Payload models.LeaveScript
}

type Disconnected struct {
	ConnID string
}

type TransportFailed struct {
	ConnID string
	Err    error
}

type membersQuery struct {
	scriptID string
	reply    chan []string
}

type statsQuery struct {
	reply chan models.Stats
}

func (Connected) kind() string       { return "connect" }
func (JoinRequested) kind() string   { return "join" }
func (UpdateReceived) kind() string  { return "update" }
func (LeaveRequested) kind() string  { return "leave" }
func (Disconnected) kind() string    { return "disconnect" }
func (TransportFailed) kind() string { return "transport_error" }
func (membersQuery) kind() string    { return "members_query" }
func (statsQuery) kind() string      { return "stats_query" }

// Decode turns an inbound frame into an event. It reports false for unknown types
// and payloads that do not decode; those are dropped without a reply.
func Decode(connID string, frame models.InboundFrame) (Event, bool) {
	switch frame.Type {
	case models.EventJoinScript:
		var p models.JoinScript
		if !decodeData(frame.Data, &p) {
			return nil, false
		}
		return JoinRequested{ConnID: connID, Payload: p}, true
	case models.EventScriptUpdate:
		var p models.ScriptUpdate
		if !decodeData(frame.Data, &p) {
			return nil, false
		}
		return UpdateReceived{ConnID: connID, Payload: p}, true
	case models.EventLeaveScript:
		var p models.LeaveScript
		if !decodeData(frame.Data, &p) {
			return nil, false
		}
		return LeaveRequested{ConnID: connID, Payload: p}, true
	default:
		return nil, false
	}
}

func decodeData(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
