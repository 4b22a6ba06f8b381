package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-meet/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
)

// Media kinds reported by clients.
const (
	MediaCamera      = "camera"
	MediaMic         = "mic"
	MediaScreenshare = "screenshare"
)

type Client struct {
	id         string
	conn       *websocket.Conn
	meetServer *MeetServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	room       *Room
	media      types.MediaFlags
}

func NewClient(id string, user types.User, conn *websocket.Conn, ms *MeetServer, l *log.Logger) *Client {
	return &Client{
		id:         id,
		conn:       conn,
		meetServer: ms,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) peer() types.Peer {
	return types.Peer{
		ConnectionId: c.id,
		User:         c.user,
		Media:        c.mediaFlags(),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		switch {
		case msg.Join != nil:
			c.joinRoom(&msg)
		case msg.Leave != nil:
			c.leaveRoom(&msg)
		case msg.Signal != nil:
			c.meetServer.Relay(&msg)
		default:
			c.roomEvent(&msg)
		}
	}
}

// joinRoom forwards a join to the hub. A client is in at most one room,
// so joining a different room implies leaving the current one first.
func (c *Client) joinRoom(msg *ClientMessage) {
	if r := c.currentRoom(); r != nil && r.id != msg.Join.RoomId {
		c.leaveCurrentRoom()
	}

	select {
	case c.meetServer.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// leaveRoom forwards a leave to the named room. Leaving a room the
// client is not in is a silent no-op.
func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.currentRoom()
	if r == nil || r.id != msg.Leave.RoomId {
		c.log.Printf("client %q not in room %q", c.id, msg.Leave.RoomId)
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for room %q", r.id)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// roomEvent routes whiteboard and presence events to the room named
// in the message, which must be the room the client is attached to.
func (c *Client) roomEvent(msg *ClientMessage) {
	roomId, ok := eventRoomId(msg)
	if !ok {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	r := c.currentRoom()
	if r == nil || r.id != roomId {
		c.queueMessage(ErrUnknownRoom(msg.Id))
		return
	}

	select {
	case r.eventChan <- msg:
	default:
		c.log.Printf("eventChan full for room %q", r.id)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func eventRoomId(msg *ClientMessage) (string, bool) {
	switch {
	case msg.Draw != nil:
		return msg.Draw.RoomId, true
	case msg.Clear != nil:
		return msg.Clear.RoomId, true
	case msg.Undo != nil:
		return msg.Undo.RoomId, true
	case msg.Redo != nil:
		return msg.Redo.RoomId, true
	case msg.Media != nil:
		return msg.Media.RoomId, true
	case msg.State != nil:
		return msg.State.RoomId, true
	}

	return "", false
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.meetServer.DeRegisterClient(c)
	c.stopClient()
}

// leaveCurrentRoom routes the implicit leave on disconnect through the
// room goroutine, same as an explicit leave.
func (c *Client) leaveCurrentRoom() {
	r := c.currentRoom()
	if r == nil {
		return
	}

	r.leaveChan <- &ClientMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Leave:  &Leave{RoomId: r.id},
		client: c,
	}
}

func (c *Client) currentRoom() *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.room
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.room = r
}

// clearRoom detaches the client only if it is still attached to r, so
// a stale detach cannot clobber a newer attachment.
func (c *Client) clearRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == r {
		c.room = nil
	}
}

func (c *Client) setMediaFlag(kind string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case MediaCamera:
		c.media.Camera = enabled
	case MediaMic:
		c.media.Mic = enabled
	case MediaScreenshare:
		c.media.Screenshare = enabled
	}
}

func (c *Client) mediaFlags() types.MediaFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.media
}
