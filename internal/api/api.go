// Package api provides the HTTP surface for room lifecycle and
// event/state synchronization. In-game actions (night submissions, votes,
// chat) go over the websocket gateway in internal/realtime; this package
// only covers what a client needs before or outside an active connection.
//
// @title Werewolf Core API
// @version 1.0
// @description Real-time social-deduction game engine core: room lifecycle, event log and state sync.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter 'Bearer {token}' to authorize
package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/qingchang/werewolf-core/internal/auth"
	"github.com/qingchang/werewolf-core/internal/engine"
	"github.com/qingchang/werewolf-core/internal/projection"
	"github.com/qingchang/werewolf-core/internal/realtime"
	"github.com/qingchang/werewolf-core/internal/room"
	"github.com/qingchang/werewolf-core/internal/store"
	"github.com/qingchang/werewolf-core/internal/types"
)

type contextKey string

const userIDKey contextKey = "user_id"

type Server struct {
	Router  *chi.Mux
	store   *store.Store
	jwt     *auth.JWTManager
	roomMgr *room.RoomManager
	logger  *zap.Logger
	cors    string
}

func NewServer(st *store.Store, jwt *auth.JWTManager, roomMgr *room.RoomManager, wsServer *realtime.WSServer, logger *zap.Logger, corsOrigin string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	s := &Server{
		Router:  r,
		store:   st,
		jwt:     jwt,
		roomMgr: roomMgr,
		logger:  logger,
		cors:    corsOrigin,
	}
	r.Use(s.corsMiddleware)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/v1/rooms", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.listRooms)
		r.Post("/", s.createRoom)
		r.Post("/{room_id}/join", s.joinRoom)
		r.Get("/{room_id}/events", s.fetchEvents)
		r.Get("/{room_id}/state", s.fetchState)
		r.Get("/{room_id}/replay", s.replay)
	})

	r.Handle("/ws", wsServer)
	return s
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cors)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// health godoc
// @Summary Health check endpoint
// @Tags System
// @Produce plain
// @Success 200 {string} string "ok"
// @Router /health [get]
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

// CreateRoomRequest configures a new lobby. Zero-valued duration/player
// fields fall back to the process-wide defaults.
type CreateRoomRequest struct {
	Name             string `json:"name"`
	MinPlayers       int    `json:"min_players,omitempty"`
	MaxPlayers       int    `json:"max_players,omitempty"`
	NightDurationSec int    `json:"night_duration_sec,omitempty"`
	DayDurationSec   int    `json:"day_duration_sec,omitempty"`
	VoteDurationSec  int    `json:"vote_duration_sec,omitempty"`
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

// createRoom godoc
// @Summary Create a new lobby
// @Tags Rooms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200 {object} CreateRoomResponse
// @Router /v1/rooms [post]
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	var req CreateRoomRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	cfg := engine.DefaultGameConfig()
	cfg.Name = req.Name
	if req.MinPlayers > 0 {
		cfg.MinPlayers = req.MinPlayers
	}
	if req.MaxPlayers > 0 {
		cfg.MaxPlayers = req.MaxPlayers
	}
	if req.NightDurationSec > 0 {
		cfg.NightDurationSec = req.NightDurationSec
	}
	if req.DayDurationSec > 0 {
		cfg.DayDurationSec = req.DayDurationSec
	}
	if req.VoteDurationSec > 0 {
		cfg.VoteDurationSec = req.VoteDurationSec
	}

	roomID := uuid.NewString()
	code, err := allocateRoomCode(r.Context(), s.store)
	if err != nil {
		writeAppError(w, err)
		return
	}
	row := store.Room{
		ID: roomID, Code: code, HostUserID: userID,
		Phase: string(engine.PhaseLobby), Status: string(engine.StatusWaiting),
		MinPlayers: cfg.MinPlayers, MaxPlayers: cfg.MaxPlayers,
		NightDurationSec: cfg.NightDurationSec, DayDurationSec: cfg.DayDurationSec, VoteDurationSec: cfg.VoteDurationSec,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRoom(r.Context(), row); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	ra, err := s.roomMgr.GetOrCreate(r.Context(), roomID)
	if err != nil {
		http.Error(w, "room error", http.StatusInternalServerError)
		return
	}
	resp := ra.Dispatch(types.CommandEnvelope{
		CommandID: uuid.NewString(), IdempotencyKey: uuid.NewString(),
		RoomID: roomID, Type: "game:join", ActorUserID: userID,
		Payload: mustJSON(map[string]string{"name": req.Name}),
	})
	if resp.Err != nil {
		http.Error(w, resp.Err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CreateRoomResponse{RoomID: roomID, Code: code})
}

// listRooms godoc
// @Summary List joinable lobbies
// @Tags Rooms
// @Security BearerAuth
// @Produce json
// @Success 200 {array} store.Room
// @Router /v1/rooms [get]
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRoomsInPhase(r.Context(), string(engine.PhaseLobby))
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rooms)
}

type JoinRoomRequest struct {
	Name string `json:"name"`
}

type JoinRoomResponse struct {
	Status string `json:"status"`
}

// joinRoom godoc
// @Summary Join an existing lobby
// @Tags Rooms
// @Security BearerAuth
// @Produce json
// @Param room_id path string true "Room ID"
// @Success 200 {object} JoinRoomResponse
// @Router /v1/rooms/{room_id}/join [post]
func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	roomID := chi.URLParam(r, "room_id")
	var req JoinRoomRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	ra, err := s.roomMgr.GetOrCreate(r.Context(), roomID)
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	resp := ra.Dispatch(types.CommandEnvelope{
		CommandID: uuid.NewString(), IdempotencyKey: uuid.NewString(),
		RoomID: roomID, Type: "game:join", ActorUserID: userID,
		Payload: mustJSON(map[string]string{"name": req.Name}),
	})
	if resp.Err != nil {
		writeAppError(w, resp.Err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JoinRoomResponse{Status: "joined"})
}

// fetchEvents godoc
// @Summary Fetch room events for incremental resync
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param room_id path string true "Room ID"
// @Param after_seq query integer false "Fetch events after this sequence number"
// @Success 200 {array} store.StoredEvent
// @Router /v1/rooms/{room_id}/events [get]
func (s *Server) fetchEvents(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	afterSeq := int64(0)
	if q := r.URL.Query().Get("after_seq"); q != "" {
		afterSeq, _ = strconv.ParseInt(q, 10, 64)
	}
	events, err := s.store.LoadEventsAfter(r.Context(), roomID, afterSeq, 200)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// fetchState godoc
// @Summary Fetch the requester's visibility-filtered game state snapshot
// @Tags State
// @Security BearerAuth
// @Produce json
// @Param room_id path string true "Room ID"
// @Success 200 {object} engine.State
// @Router /v1/rooms/{room_id}/state [get]
func (s *Server) fetchState(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	roomID := chi.URLParam(r, "room_id")
	ra, err := s.roomMgr.GetOrCreate(r.Context(), roomID)
	if err != nil {
		http.Error(w, "room error", http.StatusInternalServerError)
		return
	}
	state := ra.GetState()
	projected := projection.ProjectedState(state, types.Viewer{UserID: userID})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projected)
}

// replay godoc
// @Summary Rebuild state up to a sequence number, for debugging
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param room_id path string true "Room ID"
// @Param to_seq query integer false "Replay up to this sequence number"
// @Param viewer query string false "View state as specific user"
// @Success 200 {object} engine.State
// @Router /v1/rooms/{room_id}/replay [get]
func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	roomID := chi.URLParam(r, "room_id")
	toSeq := int64(0)
	if q := r.URL.Query().Get("to_seq"); q != "" {
		toSeq, _ = strconv.ParseInt(q, 10, 64)
	}
	viewerParam := r.URL.Query().Get("viewer")
	if viewerParam == "" {
		viewerParam = userID
	}

	row, err := s.store.FindRoomByID(r.Context(), roomID)
	if err != nil || row == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	events, err := s.store.LoadEventsUpTo(r.Context(), roomID, toSeq)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	state := engine.NewState(roomID, row.Code, row.HostUserID)
	for _, e := range events {
		var p map[string]string
		_ = json.Unmarshal([]byte(e.PayloadJSON), &p)
		state.Reduce(engine.EventPayload{Seq: e.Seq, Type: e.EventType, Actor: e.ActorUserID, Payload: p})
	}
	projected := projection.ProjectedState(state, types.Viewer{UserID: viewerParam})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projected)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) < 8 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tokenStr := authHeader[7:]
		claims, err := s.jwt.Parse(tokenStr)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *types.AppError
	if !asAppError(err, &ae) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindPrecondition, types.KindConflict:
		status = http.StatusConflict
	case types.KindAuth:
		status = http.StatusUnauthorized
	}
	http.Error(w, ae.Error(), status)
}

func asAppError(err error, target **types.AppError) bool {
	ae, ok := err.(*types.AppError)
	if ok {
		*target = ae
	}
	return ok
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func randomRoomCode() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			panic(err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code)
}

// allocateRoomCode draws a uniformly random code and retries on collision
// against any room the store still knows about, up to 10 attempts before
// surfacing a conflict to the caller.
func allocateRoomCode(ctx context.Context, st *store.Store) (string, error) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		code := randomRoomCode()
		existing, err := st.FindRoomByCode(ctx, code)
		if err != nil {
			return "", types.InternalError("failed to check room code", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", types.ConflictError("could not allocate a unique room code")
}
