package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-meet/internal/types"
)

// Signal kinds relayed peer-to-peer. The payload is opaque to the
// server; only the target lookup and delivery are handled here.
const (
	SignalOffer           = "offer"
	SignalAnswer          = "answer"
	SignalICECandidate    = "ice_candidate"
	SignalMediaState      = "media_state"
	SignalConnectionState = "connection_state"
)

// Machine-readable error kinds reported to the initiating connection.
const (
	KindUnknownConnection   = "unknown_connection"
	KindDuplicateConnection = "duplicate_connection"
	KindUnknownRoom         = "unknown_room"
	KindPeerNotFound        = "peer_not_found"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join   *Join        `json:"join,omitempty"`
	Leave  *Leave       `json:"leave,omitempty"`
	Signal *Signal      `json:"signal,omitempty"`
	Draw   *Draw        `json:"draw,omitempty"`
	Clear  *Clear       `json:"clear,omitempty"`
	Undo   *Undo        `json:"undo,omitempty"`
	Redo   *Redo        `json:"redo,omitempty"`
	Media  *MediaChange `json:"media,omitempty"`
	State  *StateChange `json:"state,omitempty"`
	client *Client      `json:"-"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type Signal struct {
	TargetId string          `json:"target_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type Draw struct {
	RoomId string          `json:"room_id"`
	Path   json.RawMessage `json:"path"`
}

type Clear struct {
	RoomId string `json:"room_id"`
}

type Undo struct {
	RoomId string `json:"room_id"`
}

type Redo struct {
	RoomId string `json:"room_id"`
}

type MediaChange struct {
	RoomId  string `json:"room_id"`
	Kind    string `json:"kind"` // camera, mic, screenshare
	Enabled bool   `json:"enabled"`
}

type StateChange struct {
	RoomId string `json:"room_id"`
	State  string `json:"state"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	SkipClient   *Client       `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	PeerJoined   *PeerEvent    `json:"peer_joined,omitempty"`
	PeerLeft     *PeerEvent    `json:"peer_left,omitempty"`
	Signal       *SignalEvent  `json:"signal,omitempty"`
	Stroke       *StrokeEvent  `json:"stroke,omitempty"`
	BoardCleared *ClearEvent   `json:"board_cleared,omitempty"`
	Undo         *HistoryEvent `json:"undo,omitempty"`
	Redo         *HistoryEvent `json:"redo,omitempty"`
	Media        *MediaEvent   `json:"media,omitempty"`
	State        *StateEvent   `json:"state,omitempty"`
}

type PeerEvent struct {
	RoomId string     `json:"room_id"`
	Peer   types.Peer `json:"peer"`
}

type SignalEvent struct {
	Kind    string          `json:"kind"`
	FromId  string          `json:"from_id"`
	From    types.User      `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type StrokeEvent struct {
	RoomId string       `json:"room_id"`
	Stroke types.Stroke `json:"stroke"`
}

type ClearEvent struct {
	RoomId string     `json:"room_id"`
	ById   string     `json:"by_id"`
	By     types.User `json:"by"`
}

// HistoryEvent carries the undo unit that was moved between the live
// board and the redo stack.
type HistoryEvent struct {
	RoomId string     `json:"room_id"`
	ById   string     `json:"by_id"`
	By     types.User `json:"by"`
	Unit   *UndoUnit  `json:"unit"`
}

type MediaEvent struct {
	RoomId string           `json:"room_id"`
	PeerId string           `json:"peer_id"`
	Media  types.MediaFlags `json:"media"`
}

type StateEvent struct {
	RoomId string     `json:"room_id"`
	PeerId string     `json:"peer_id"`
	From   types.User `json:"from"`
	State  string     `json:"state"`
}

// JoinData is returned to the joiner: the existing members excluding
// the joiner itself plus the current board so late joiners catch up.
type JoinData struct {
	RoomId  string         `json:"room_id"`
	Peers   []types.Peer   `json:"peers"`
	Strokes []types.Stroke `json:"strokes"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrUnknownRoom(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "unknown room",
			Kind:         KindUnknownRoom,
		},
	}
}

func ErrUnknownConnection(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusGone,
			Error:        "unknown connection",
			Kind:         KindUnknownConnection,
		},
	}
}

func ErrDuplicateConnection(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "duplicate connection",
			Kind:         KindDuplicateConnection,
		},
	}
}

func ErrPeerNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "peer not found",
			Kind:         KindPeerNotFound,
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
