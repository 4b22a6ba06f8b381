package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-meet/internal/server"
	"github.com/npezzotti/go-meet/internal/types"
	"github.com/teris-io/shortid"
)

type CreateMeetingRequest struct {
	DisplayName string `json:"display_name"`
}

type JoinMeetingRequest struct {
	MeetingCode string `json:"meeting_code"`
	DisplayName string `json:"display_name"`
}

// MeetingResponse carries everything a client needs to enter a
// meeting: the code to share, the guest identity and the token to
// present at the WebSocket upgrade.
type MeetingResponse struct {
	MeetingCode string     `json:"meeting_code"`
	Token       string     `json:"token"`
	User        types.User `json:"user"`
}

func (s *MeetApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *MeetApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *MeetApp) createMeeting(w http.ResponseWriter, r *http.Request) {
	var req CreateMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.DisplayName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user := types.User{
		Id:          uuid.NewString(),
		DisplayName: req.DisplayName,
	}

	token, err := s.createGuestToken(user, code, defaultTokenExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, MeetingResponse{
		MeetingCode: code,
		Token:       token,
		User:        user,
	})
}

func (s *MeetApp) joinMeeting(w http.ResponseWriter, r *http.Request) {
	var req JoinMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.MeetingCode == "" || req.DisplayName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user := types.User{
		Id:          uuid.NewString(),
		DisplayName: req.DisplayName,
	}

	token, err := s.createGuestToken(user, req.MeetingCode, defaultTokenExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, MeetingResponse{
		MeetingCode: req.MeetingCode,
		Token:       token,
		User:        user,
	})
}

// listMeetings returns a snapshot of the active rooms for the lobby.
func (s *MeetApp) listMeetings(w http.ResponseWriter, _ *http.Request) {
	rooms := s.ms.Rooms()
	if rooms == nil {
		rooms = []types.RoomInfo{}
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *MeetApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(uuid.NewString(), user, conn, s.ms, s.log)
	if err := s.ms.RegisterClient(client); err != nil {
		s.log.Println("register client:", err)
		if errors.Is(err, server.ErrConnectionExists) {
			conn.WriteJSON(server.ErrDuplicateConnection(0))
		}
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func (s *MeetApp) generateShortId() (string, error) {
	return shortid.Generate()
}
