package types

import (
	"encoding/json"
	"time"
)

// User is the verified identity bound to a connection by the auth
// layer before any event is processed.
type User struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// MediaFlags reports which media tracks a participant currently has
// active. Informational only; mutated by explicit media events.
type MediaFlags struct {
	Camera      bool `json:"camera"`
	Mic         bool `json:"mic"`
	Screenshare bool `json:"screenshare"`
}

// Peer describes a room member as seen by other members.
type Peer struct {
	ConnectionId string     `json:"connection_id"`
	User         User       `json:"user"`
	Media        MediaFlags `json:"media"`
}

// Stroke is one whiteboard drawing action. Seq is assigned by the
// server in room arrival order, unique within a room.
type Stroke struct {
	Seq               uint64          `json:"seq"`
	AuthorId          string          `json:"author_id"`
	AuthorDisplayName string          `json:"author_display_name"`
	Path              json.RawMessage `json:"path"`
	CreatedAt         time.Time       `json:"created_at"`
}

// RoomInfo is a read-only snapshot of a room for the lobby API.
type RoomInfo struct {
	RoomId     string    `json:"room_id"`
	NumMembers int       `json:"num_members"`
	NumStrokes int       `json:"num_strokes"`
	CreatedAt  time.Time `json:"created_at"`
}
