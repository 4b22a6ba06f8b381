package server

import (
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-meet/internal/stats"
	"github.com/npezzotti/go-meet/internal/types"
)

type exitReq struct {
	// force skips the emptiness check, used at shutdown
	force bool
	done  chan bool
}

type Room struct {
	id        string
	ms        *MeetServer
	log       *log.Logger
	stats     stats.StatsProvider
	createdAt time.Time
	joinChan  chan *ClientMessage
	leaveChan chan *ClientMessage
	eventChan chan *ClientMessage
	// exit is used to signal the room to exit
	exit       chan exitReq
	memberLock sync.RWMutex
	members    map[string]*Client
	board      *Whiteboard
}

func newRoom(id string, ms *MeetServer) *Room {
	return &Room{
		id:        id,
		ms:        ms,
		log:       ms.log,
		stats:     ms.stats,
		createdAt: time.Now().UTC(),
		joinChan:  make(chan *ClientMessage, 256),
		leaveChan: make(chan *ClientMessage, 256),
		eventChan: make(chan *ClientMessage, 256),
		exit:      make(chan exitReq),
		members:   make(map[string]*Client),
		board:     NewWhiteboard(),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.eventChan:
			r.handleEvent(msg)
		case e := <-r.exit:
			if r.handleRoomExit(e) {
				return
			}
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	c := join.client

	if r.isMember(c) {
		// duplicate join is idempotent
		c.queueMessage(NoErrOK(join.Id, r.joinData(c)))
		return
	}

	if err := r.ms.registry.Attach(c.id, r); err != nil {
		r.log.Printf("attach %q to room %q: %v", c.id, r.id, err)
		c.queueMessage(ErrUnknownConnection(join.Id))
		return
	}

	r.addMember(c)

	// send the current member list and board to the joiner
	c.queueMessage(NoErrOK(join.Id, r.joinData(c)))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			PeerJoined: &PeerEvent{
				RoomId: r.id,
				Peer:   c.peer(),
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client

	if !r.isMember(c) {
		r.log.Printf("client %q not found in room %q", c.id, r.id)
		return
	}

	r.removeMember(c)

	if leaveMsg.Id > 0 {
		// the leave came from a client request, acknowledge it
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			PeerLeft: &PeerEvent{
				RoomId: r.id,
				Peer:   c.peer(),
			},
		},
		SkipClient: c,
	})

	if r.numMembers() == 0 {
		r.ms.requestUnload(r.id)
	}
}

func (r *Room) handleEvent(msg *ClientMessage) {
	if !r.isMember(msg.client) {
		msg.client.queueMessage(ErrUnknownRoom(msg.Id))
		return
	}

	switch {
	case msg.Draw != nil:
		r.handleDraw(msg)
	case msg.Clear != nil:
		r.handleClear(msg)
	case msg.Undo != nil:
		r.handleUndo(msg)
	case msg.Redo != nil:
		r.handleRedo(msg)
	case msg.Media != nil:
		r.handleMedia(msg)
	case msg.State != nil:
		r.handleState(msg)
	}
}

func (r *Room) handleDraw(msg *ClientMessage) {
	c := msg.client
	stroke := r.board.Draw(c.user, msg.Draw.Path)
	r.stats.Incr("NumWhiteboardOps")

	// the response carries the server-assigned sequence number
	c.queueMessage(NoErrOK(msg.Id, stroke))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Stroke: &StrokeEvent{
				RoomId: r.id,
				Stroke: stroke,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleClear(msg *ClientMessage) {
	c := msg.client
	n := r.board.Clear()
	r.stats.Incr("NumWhiteboardOps")
	r.log.Printf("cleared %d strokes in room %q", n, r.id)

	c.queueMessage(NoErrOK(msg.Id, nil))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			BoardCleared: &ClearEvent{
				RoomId: r.id,
				ById:   c.id,
				By:     c.user,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleUndo(msg *ClientMessage) {
	c := msg.client
	unit := r.board.Undo()
	if unit == nil {
		// nothing to undo, acknowledge without broadcasting
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	r.stats.Incr("NumWhiteboardOps")
	c.queueMessage(NoErrOK(msg.Id, unit))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Undo: &HistoryEvent{
				RoomId: r.id,
				ById:   c.id,
				By:     c.user,
				Unit:   unit,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleRedo(msg *ClientMessage) {
	c := msg.client
	unit := r.board.Redo()
	if unit == nil {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	r.stats.Incr("NumWhiteboardOps")
	c.queueMessage(NoErrOK(msg.Id, unit))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Redo: &HistoryEvent{
				RoomId: r.id,
				ById:   c.id,
				By:     c.user,
				Unit:   unit,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleMedia(msg *ClientMessage) {
	c := msg.client
	c.setMediaFlag(msg.Media.Kind, msg.Media.Enabled)

	if msg.Id > 0 {
		c.queueMessage(NoErrOK(msg.Id, nil))
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Media: &MediaEvent{
				RoomId: r.id,
				PeerId: c.id,
				Media:  c.mediaFlags(),
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleState(msg *ClientMessage) {
	c := msg.client

	if msg.Id > 0 {
		c.queueMessage(NoErrOK(msg.Id, nil))
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			State: &StateEvent{
				RoomId: r.id,
				PeerId: c.id,
				From:   c.user,
				State:  msg.State.State,
			},
		},
		SkipClient: c,
	})
}

// handleRoomExit tears the room down. A non-forced exit is refused if
// members remain or a join is still queued, which covers a join racing
// the unload. Returns true when the room goroutine should return.
func (r *Room) handleRoomExit(e exitReq) bool {
	if !e.force && (r.numMembers() > 0 || len(r.joinChan) > 0) {
		r.log.Printf("room %q refusing exit, still active", r.id)
		if e.done != nil {
			e.done <- false
		}
		return false
	}

	r.log.Printf("room %q is exiting", r.id)

	r.memberLock.Lock()
	for _, c := range r.members {
		c.clearRoom(r)
	}
	r.members = make(map[string]*Client)
	r.memberLock.Unlock()

	if e.done != nil {
		e.done <- true
	}
	return true
}

// joinData builds the join response payload: the members excluding the
// joiner plus the current board so late joiners catch up.
func (r *Room) joinData(joiner *Client) JoinData {
	r.memberLock.RLock()
	peers := make([]types.Peer, 0, len(r.members))
	for _, c := range r.members {
		if c == joiner {
			continue
		}
		peers = append(peers, c.peer())
	}
	r.memberLock.RUnlock()

	return JoinData{
		RoomId:  r.id,
		Peers:   peers,
		Strokes: r.board.Strokes(),
	}
}

func (r *Room) addMember(c *Client) {
	r.memberLock.Lock()
	defer r.memberLock.Unlock()

	r.members[c.id] = c
}

func (r *Room) removeMember(c *Client) {
	r.memberLock.Lock()
	defer r.memberLock.Unlock()

	delete(r.members, c.id)
	c.clearRoom(r)
}

func (r *Room) isMember(c *Client) bool {
	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	_, ok := r.members[c.id]
	return ok
}

func (r *Room) numMembers() int {
	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	return len(r.members)
}

func (r *Room) Info() types.RoomInfo {
	return types.RoomInfo{
		RoomId:     r.id,
		NumMembers: r.numMembers(),
		NumStrokes: r.board.NumStrokes(),
		CreatedAt:  r.createdAt,
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	msg.Timestamp = Now()

	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	for _, client := range r.members {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
