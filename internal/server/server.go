package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-meet/internal/stats"
	"github.com/npezzotti/go-meet/internal/types"
)

type stopRequest struct {
	done chan struct{}
}

// MeetServer is the hub. It owns the room map and runs a single
// goroutine handling cross-room concerns: room creation on first join,
// unloading empty rooms and shutdown. Per-room work happens on the
// room goroutines, connection tracking in the registry.
type MeetServer struct {
	log            *log.Logger
	stats          stats.StatsProvider
	registry       *ConnectionRegistry
	relay          *Relay
	roomsLock      sync.RWMutex
	rooms          map[string]*Room
	joinChan       chan *ClientMessage
	unloadRoomChan chan string
	stop           chan stopRequest
}

func NewMeetServer(logger *log.Logger, sp stats.StatsProvider) *MeetServer {
	registry := NewConnectionRegistry()
	ms := &MeetServer{
		log:            logger,
		stats:          sp,
		registry:       registry,
		relay:          NewRelay(registry, logger, sp),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan string, 256),
		stop:           make(chan stopRequest),
	}

	for _, metric := range []string{
		"NumConnections",
		"NumActiveRooms",
		"NumSignalsRelayed",
		"NumWhiteboardOps",
	} {
		sp.RegisterMetric(metric)
	}

	return ms
}

func (ms *MeetServer) Run() {
	for {
		select {
		case joinMsg := <-ms.joinChan:
			ms.handleJoinRoom(joinMsg)
		case id := <-ms.unloadRoomChan:
			ms.handleUnloadRoom(id)
		case req := <-ms.stop:
			ms.log.Println("shutting down rooms")
			ms.roomsLock.Lock()
			if n := len(ms.rooms); n > 0 {
				ms.stats.Add("NumActiveRooms", -n)
			}
			for id, r := range ms.rooms {
				done := make(chan bool)
				r.exit <- exitReq{force: true, done: done}
				<-done
				delete(ms.rooms, id)
			}
			ms.roomsLock.Unlock()

			close(req.done)
			return
		}
	}
}

// handleJoinRoom routes a join to the target room, creating the room
// on first join.
func (ms *MeetServer) handleJoinRoom(joinMsg *ClientMessage) {
	room, ok := ms.getRoom(joinMsg.Join.RoomId)
	if !ok {
		room = newRoom(joinMsg.Join.RoomId, ms)
		ms.addRoom(room)
		ms.stats.Incr("NumActiveRooms")

		go room.start()
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		ms.log.Printf("join channel full on room %q", room.id)
		joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
	}
}

// handleUnloadRoom asks an empty room to exit. The room refuses if a
// join slipped in after the last leave, in which case it stays loaded.
func (ms *MeetServer) handleUnloadRoom(id string) {
	room, ok := ms.getRoom(id)
	if !ok {
		return
	}

	done := make(chan bool)
	room.exit <- exitReq{done: done}
	if <-done {
		ms.removeRoom(id)
		ms.stats.Decr("NumActiveRooms")
	}
}

// requestUnload is called from a room goroutine when its last member
// leaves. Never blocks so a busy hub cannot stall a room.
func (ms *MeetServer) requestUnload(id string) {
	select {
	case ms.unloadRoomChan <- id:
	default:
		ms.log.Printf("unload channel full, room %q stays loaded", id)
	}
}

// RegisterClient adds a connection to the registry. Connection ids are
// unique; a second registration with the same id is refused.
func (ms *MeetServer) RegisterClient(c *Client) error {
	if err := ms.registry.Register(c); err != nil {
		return err
	}

	ms.stats.Incr("NumConnections")
	return nil
}

// DeRegisterClient removes a disconnected client. The implicit leave
// of its current room runs first so peers observe peer_left before
// the connection disappears.
func (ms *MeetServer) DeRegisterClient(c *Client) {
	c.leaveCurrentRoom()
	ms.registry.Remove(c.id)
	ms.stats.Decr("NumConnections")
}

func (ms *MeetServer) Relay(msg *ClientMessage) {
	ms.relay.Relay(msg)
}

func (ms *MeetServer) getRoom(id string) (*Room, bool) {
	ms.roomsLock.RLock()
	defer ms.roomsLock.RUnlock()

	r, ok := ms.rooms[id]
	return r, ok
}

func (ms *MeetServer) addRoom(r *Room) {
	ms.roomsLock.Lock()
	defer ms.roomsLock.Unlock()

	ms.rooms[r.id] = r
}

func (ms *MeetServer) removeRoom(id string) {
	ms.roomsLock.Lock()
	defer ms.roomsLock.Unlock()

	delete(ms.rooms, id)
}

// Rooms returns a snapshot of the loaded rooms for the lobby API.
func (ms *MeetServer) Rooms() []types.RoomInfo {
	ms.roomsLock.RLock()
	rooms := make([]*Room, 0, len(ms.rooms))
	for _, r := range ms.rooms {
		rooms = append(rooms, r)
	}
	ms.roomsLock.RUnlock()

	infos := make([]types.RoomInfo, len(rooms))
	for i, r := range rooms {
		infos[i] = r.Info()
	}
	return infos
}

// Shutdown stops all client pumps and tears down every room, waiting
// until the hub goroutine has drained or ctx expires.
func (ms *MeetServer) Shutdown(ctx context.Context) error {
	ms.log.Println("received shutdown signal")

	ms.registry.Each(func(c *Client) {
		c.stopClient()
	})

	req := stopRequest{done: make(chan struct{})}
	select {
	case ms.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
