package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-meet/internal/stats"
	"github.com/npezzotti/go-meet/internal/testutil"
	"github.com/npezzotti/go-meet/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newTestMeetServer creates a new MeetServer instance for testing purposes
func newTestMeetServer(t *testing.T, su *stats.MockStatsUpdater) *MeetServer {
	t.Helper()
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	return NewMeetServer(testutil.TestLogger(t), su)
}

func TestNewMeetServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	ms := NewMeetServer(logger, su)
	assert.NotNil(t, ms, "expected MeetServer to be non-nil")
	assert.Equal(t, logger, ms.log, "expected logger to be set")
	assert.NotNil(t, ms.registry, "expected registry to be initialized")
	assert.NotNil(t, ms.relay, "expected relay to be initialized")
	assert.NotNil(t, ms.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, ms.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, ms.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, ms.stop, "expected stop channel to be initialized")
}

func TestMeetServer_RegisterDeRegisterClient(t *testing.T) {
	t.Run("register and deregister", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumConnections").Once()
		su.On("Decr", "NumConnections").Once()
		defer su.AssertExpectations(t)

		ms := newTestMeetServer(t, su)
		c := newTestClient(t, "conn-1", types.User{Id: "u1", DisplayName: "testuser"}, ms)

		err := ms.RegisterClient(c)
		assert.NoError(t, err, "expected no error registering client")
		assert.Equal(t, 1, ms.registry.Len(), "expected 1 registered connection")

		ms.DeRegisterClient(c)
		assert.Equal(t, 0, ms.registry.Len(), "expected 0 registered connections")
	})

	t.Run("duplicate connection id is refused", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumConnections").Once()
		defer su.AssertExpectations(t)

		ms := newTestMeetServer(t, su)
		c1 := newTestClient(t, "conn-1", types.User{Id: "u1"}, ms)
		c2 := newTestClient(t, "conn-1", types.User{Id: "u2"}, ms)

		assert.NoError(t, ms.RegisterClient(c1), "expected first registration to succeed")
		err := ms.RegisterClient(c2)
		assert.ErrorIs(t, err, ErrConnectionExists, "expected duplicate registration to fail")
		assert.Equal(t, 1, ms.registry.Len(), "expected only one registered connection")
	})

	t.Run("deregister runs implicit leave first", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumConnections").Once()
		su.On("Decr", "NumConnections").Once()
		defer su.AssertExpectations(t)

		ms := newTestMeetServer(t, su)
		room := newRoom("testroom", ms)

		c := newTestClient(t, "conn-1", types.User{Id: "u1"}, ms)
		assert.NoError(t, ms.RegisterClient(c))
		room.handleJoin(joinMsg(c, room.id, 1))

		ms.DeRegisterClient(c)

		// the leave is routed through the room channel, not applied inline
		select {
		case leaveMsg := <-room.leaveChan:
			assert.NotNil(t, leaveMsg.Leave, "expected leave message")
			assert.Equal(t, room.id, leaveMsg.Leave.RoomId, "expected leave for the joined room")
			assert.Equal(t, 0, leaveMsg.Id, "expected implicit leave to carry no request id")
		default:
			t.Error("expected implicit leave to be queued to room")
		}

		_, ok := ms.registry.Get(c.id)
		assert.False(t, ok, "expected connection to be removed from registry")
	})
}

func TestMeetServer_handleJoinRoom(t *testing.T) {
	t.Run("join existing room", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		room := newRoom("testroom", ms)
		ms.addRoom(room)

		ms.handleJoinRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{RoomId: "testroom"},
		})

		select {
		case <-room.joinChan:
			// ok, join message forwarded to room
		default:
			t.Error("expected join message to be forwarded to room")
		}
	})

	t.Run("first join creates room", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumActiveRooms").Once()
		su.On("Decr", "NumActiveRooms").Once()
		defer su.AssertExpectations(t)

		ms := newTestMeetServer(t, su)
		c := newTestClient(t, "conn-1", types.User{Id: "u1", DisplayName: "testuser"}, ms)
		assert.NoError(t, ms.registry.Register(c))

		ms.handleJoinRoom(joinMsg(c, "newroom", 1))

		room, ok := ms.getRoom("newroom")
		assert.True(t, ok, "expected room to be created")
		assert.NotNil(t, room, "expected room to be non-nil")

		// the room goroutine processes the join
		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected join response")
			assert.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected response code 200")
		case <-time.After(time.Second):
			t.Error("timeout: client did not receive join response")
		}

		// leave so the unload is accepted
		room.leaveChan <- &ClientMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Leave:       &Leave{RoomId: room.id},
			client:      c,
		}

		assert.Eventually(t, func() bool {
			ms.handleUnloadRoom(room.id)
			_, ok := ms.getRoom(room.id)
			return !ok
		}, time.Second, 10*time.Millisecond, "expected room to be unloaded after last leave")
	})

	t.Run("join fails when joinChan full", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		room := newRoom("fullroom", ms)
		room.joinChan = make(chan *ClientMessage, 1)
		room.joinChan <- &ClientMessage{} // fill the channel
		ms.addRoom(room)

		c := newTestClient(t, "conn-1", types.User{Id: "u1"}, ms)
		ms.handleJoinRoom(joinMsg(c, "fullroom", 1))

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, http.StatusServiceUnavailable, msg.Response.ResponseCode, "expected response code 503")
		default:
			t.Error("expected client to receive error response")
		}
	})
}

func TestMeetServer_handleUnloadRoom(t *testing.T) {
	t.Run("unloads empty room", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", "NumActiveRooms").Once()
		defer su.AssertExpectations(t)

		ms := newTestMeetServer(t, su)
		room := newRoom("testroom", ms)
		ms.addRoom(room)
		go room.start()

		ms.handleUnloadRoom(room.id)

		_, ok := ms.getRoom(room.id)
		assert.False(t, ok, "expected room to be removed after unload")
	})

	t.Run("keeps room when exit is refused", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		room := newRoom("testroom", ms)
		ms.addRoom(room)

		c := newTestClient(t, "conn-1", types.User{Id: "u1"}, ms)
		assert.NoError(t, ms.registry.Register(c))
		room.handleJoin(joinMsg(c, room.id, 1))

		go room.start()
		ms.handleUnloadRoom(room.id)

		got, ok := ms.getRoom(room.id)
		assert.True(t, ok, "expected room to stay loaded while members remain")
		assert.Equal(t, room, got, "expected the same room instance")
	})

	t.Run("ignores unknown room", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		ms.handleUnloadRoom("missing")
	})
}

func TestMeetServer_requestUnload(t *testing.T) {
	t.Run("queues unload request", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		ms.requestUnload("testroom")

		select {
		case id := <-ms.unloadRoomChan:
			assert.Equal(t, "testroom", id, "expected room id to match")
		default:
			t.Error("expected unload request to be queued")
		}
	})

	t.Run("drops request when channel full", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		ms.unloadRoomChan = make(chan string, 1)
		ms.unloadRoomChan <- "another-room"

		ms.requestUnload("testroom") // must not block
		assert.Len(t, ms.unloadRoomChan, 1, "expected request to be dropped")
	})
}

func TestMeetServer_Rooms(t *testing.T) {
	ms := newTestMeetServer(t, &stats.MockStatsUpdater{})

	r1 := newRoom("room-1", ms)
	r2 := newRoom("room-2", ms)
	ms.addRoom(r1)
	ms.addRoom(r2)

	c := newTestClient(t, "conn-1", types.User{Id: "u1"}, ms)
	assert.NoError(t, ms.registry.Register(c))
	r1.handleJoin(joinMsg(c, r1.id, 1))
	r1.board.Draw(c.user, path(`{}`))

	infos := ms.Rooms()
	assert.Len(t, infos, 2, "expected snapshot of both rooms")

	byId := make(map[string]types.RoomInfo)
	for _, info := range infos {
		byId[info.RoomId] = info
	}

	assert.Equal(t, 1, byId["room-1"].NumMembers, "expected 1 member in room-1")
	assert.Equal(t, 1, byId["room-1"].NumStrokes, "expected 1 stroke in room-1")
	assert.Equal(t, 0, byId["room-2"].NumMembers, "expected empty room-2")
}

func TestMeetServer_Shutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-ms.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := ms.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		go func() {
			<-ms.stop
			// do not close req.done to simulate a hang
		}()

		err := ms.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error")
	})
}

func TestMeetServer_Shutdown_Integration(t *testing.T) {
	t.Run("shutdown with no rooms", func(t *testing.T) {
		ms := newTestMeetServer(t, &stats.MockStatsUpdater{})
		go ms.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := ms.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("shutdown with active rooms", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Add", "NumActiveRooms", -1).Once()
		defer su.AssertExpectations(t)

		ms := newTestMeetServer(t, su)
		go ms.Run()

		room := newRoom("testroom", ms)
		ms.addRoom(room)
		go room.start()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := ms.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown with active rooms")

		_, ok := ms.getRoom(room.id)
		assert.False(t, ok, "expected room to be unloaded after shutdown")
	})
}
