// Package app wires the interaction service: HTTP and WebSocket transport,
// change-event routing, feedback, and storage lifecycle.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/net/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
	"github.com/louisbranch/auditorium.live/internal/platform/id"
	"github.com/louisbranch/auditorium.live/internal/platform/timeouts"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/scoring"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/stats"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/storage"
	interactionsqlite "github.com/louisbranch/auditorium.live/internal/services/interaction/storage/sqlite"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3

	subscriberBuffer    = 16
	feedbackSweepPeriod = 15 * time.Minute
)

// Config defines the inputs for the interaction transport boundary.
type Config struct {
	HTTPAddr          string
	HealthAddr        string
	DBPath            string
	TokenSecret       string
	TokenTTL          time.Duration
	FeedbackTTL       time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the interaction HTTP/WebSocket process plus an optional gRPC
// health endpoint for infrastructure probes.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server

	healthListener net.Listener
	grpcServer     *grpc.Server
	healthServer   *health.Server

	store    *interactionsqlite.Store
	router   *Router
	feedback *FeedbackService
}

// NewServer builds a configured interaction server. The store, router, hub,
// and feedback service are wired so every committed answer write flows into
// a broadcast.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := openStore(config.DBPath)
	if err != nil {
		return nil, err
	}

	hub := NewHub()
	router := NewRouter(store, store, hub)
	store.SetChangeListener(router)

	feedbackSvc := NewFeedbackService(hub, config.FeedbackTTL)
	if err := restoreSurveys(ctx, store, feedbackSvc); err != nil {
		_ = store.Close()
		return nil, err
	}

	var authorizer *Authorizer
	if secret := strings.TrimSpace(config.TokenSecret); secret != "" {
		ttl := config.TokenTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		authorizer = NewAuthorizer([]byte(secret), ttl)
	} else {
		log.Printf("interaction: token secret not set, running without auth")
	}

	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           NewHandler(store, hub, feedbackSvc, authorizer),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		store:    store,
		router:   router,
		feedback: feedbackSvc,
	}

	if healthAddr := strings.TrimSpace(config.HealthAddr); healthAddr != "" {
		listener, err := net.Listen("tcp", healthAddr)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("listen on health addr %s: %w", healthAddr, err)
		}
		grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		server.healthListener = listener
		server.grpcServer = grpcServer
		server.healthServer = healthServer
	}

	return server, nil
}

func openStore(path string) (*interactionsqlite.Store, error) {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join("data", "interaction.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := interactionsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open interaction sqlite store: %w", err)
	}
	return store, nil
}

// restoreSurveys rebuilds the in-memory feedback surveys for rooms that
// survived a restart. Votes are not persisted, so every survey starts empty
// with the room's stored lock state.
func restoreSurveys(ctx context.Context, store storage.RoomStore, feedbackSvc *FeedbackService) error {
	rooms, err := store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	for _, room := range rooms {
		feedbackSvc.Register(room.ID, room.FeedbackLocked)
	}
	return nil
}

// Run creates and serves an interaction server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init interaction server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve interaction: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server, the health endpoint, and the
// feedback sweeper until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("interaction server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.feedback.RunSweeper(sweepCtx, feedbackSweepPeriod)

	if s.grpcServer != nil {
		go func() {
			if err := s.grpcServer.Serve(s.healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("serve health gRPC: %v", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	log.Printf("interaction server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources. Pending recomputes are drained before
// the store closes.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.router != nil {
		s.router.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close interaction store: %v", err)
		}
	}
}

// handler carries the dependencies of the HTTP and WebSocket routes. A nil
// authorizer disables token checks; tests and offline paths use that mode.
type handler struct {
	store    storage.Store
	hub      *Hub
	feedback *FeedbackService
	auth     *Authorizer
}

// NewHandler creates the interaction routes.
func NewHandler(store storage.Store, hub *Hub, feedbackSvc *FeedbackService, auth *Authorizer) http.Handler {
	h := &handler{store: store, hub: hub, feedback: feedbackSvc, auth: auth}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /rooms", h.createRoom)
	mux.HandleFunc("DELETE /rooms/{room}", h.deleteRoom)
	mux.HandleFunc("POST /rooms/{room}/contents", h.createContent)
	mux.HandleFunc("GET /rooms/{room}/contents", h.listContents)
	mux.HandleFunc("POST /rooms/{room}/contents/{content}/answers", h.submitAnswer)
	mux.HandleFunc("GET /rooms/{room}/contents/{content}/stats", h.contentStats)
	mux.Handle("GET /ws", websocket.Handler(h.handleWSConn))
	return mux
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("interaction: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		err = apperrors.Wrap(apperrors.CodeNotFound, "record not found", err)
	}
	code := apperrors.GetCode(err)
	message := err.Error()
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if code == apperrors.CodeUnknown {
		log.Printf("interaction: internal error: %v", err)
		message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorEnvelope{Error: errorBody{
		Code:    string(code),
		Message: message,
	}})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireModerator resolves the caller's claims and enforces the moderator
// role when auth is configured.
func (h *handler) requireModerator(r *http.Request, roomID string) (RoomClaims, error) {
	if h.auth == nil {
		return RoomClaims{UserID: "moderator", RoomID: roomID, Role: RoleModerator}, nil
	}
	return h.auth.VerifyModerator(bearerToken(r), roomID)
}

// requireParticipant resolves the caller's claims; any role is accepted.
func (h *handler) requireParticipant(r *http.Request, roomID string) (RoomClaims, error) {
	if h.auth == nil {
		return RoomClaims{UserID: "participant", RoomID: roomID, Role: RoleParticipant}, nil
	}
	return h.auth.Verify(bearerToken(r), roomID)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type roomView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	FeedbackLocked bool   `json:"feedback_locked"`
}

type createRoomResponse struct {
	Room           roomView `json:"room"`
	ModeratorToken string   `json:"moderator_token,omitempty"`
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeRoomNameEmpty, "invalid room payload"))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, apperrors.New(apperrors.CodeRoomNameEmpty, "room name is required"))
		return
	}

	roomID, err := id.NewID()
	if err != nil {
		writeError(w, fmt.Errorf("generate room id: %w", err))
		return
	}
	room := storage.Room{ID: roomID, Name: name, FeedbackLocked: true}
	if err := h.store.CreateRoom(r.Context(), room); err != nil {
		writeError(w, err)
		return
	}
	h.feedback.Register(roomID, room.FeedbackLocked)

	resp := createRoomResponse{Room: roomView{
		ID:             roomID,
		Name:           name,
		FeedbackLocked: room.FeedbackLocked,
	}}
	if h.auth != nil {
		moderatorID, err := id.NewID()
		if err != nil {
			writeError(w, fmt.Errorf("generate moderator id: %w", err))
			return
		}
		token, err := h.auth.Issue(RoomClaims{UserID: moderatorID, RoomID: roomID, Role: RoleModerator})
		if err != nil {
			writeError(w, fmt.Errorf("issue moderator token: %w", err))
			return
		}
		resp.ModeratorToken = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if _, err := h.requireModerator(r, roomID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.DeleteRoom(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}
	h.feedback.Remove(roomID)
	w.WriteHeader(http.StatusNoContent)
}

// contentPayload is the wire form of a content item, shared by the create
// request and every content response.
type contentPayload struct {
	ID                 string   `json:"id,omitempty"`
	Format             string   `json:"format"`
	Round              int      `json:"round,omitempty"`
	AbstentionsAllowed bool     `json:"abstentions_allowed,omitempty"`
	Options            []string `json:"options,omitempty"`
	CorrectIndexes     []int    `json:"correct_indexes,omitempty"`
	Multiple           bool     `json:"multiple,omitempty"`
	OptionCount        int      `json:"option_count,omitempty"`
	Template           string   `json:"template,omitempty"`
	MaxAnswers         int      `json:"max_answers,omitempty"`
}

func (p contentPayload) toDomain(roomID string) (content.Content, error) {
	format, err := content.ParseFormat(p.Format)
	if err != nil {
		return content.Content{}, err
	}
	c := content.Content{
		RoomID:             roomID,
		Format:             format,
		Round:              p.Round,
		AbstentionsAllowed: p.AbstentionsAllowed,
	}
	switch format {
	case content.FormatChoice, content.FormatBinary, content.FormatSort:
		c.Choice = &content.ChoiceSpec{
			Options:        p.Options,
			CorrectIndexes: p.CorrectIndexes,
			Multiple:       p.Multiple,
		}
	case content.FormatScale:
		c.Scale = &content.ScaleSpec{OptionCount: p.OptionCount, Template: p.Template}
	case content.FormatWordcloud:
		c.Wordcloud = &content.WordcloudSpec{MaxAnswers: p.MaxAnswers}
	case content.FormatPriorization:
		c.Priorization = &content.PriorizationSpec{Options: p.Options}
	}
	return c, nil
}

func contentToPayload(c content.Content) contentPayload {
	p := contentPayload{
		ID:                 c.ID,
		Format:             string(c.Format),
		Round:              c.CurrentRound(),
		AbstentionsAllowed: c.AbstentionsAllowed,
	}
	switch {
	case c.Choice != nil:
		p.Options = c.Choice.Options
		p.CorrectIndexes = c.Choice.CorrectIndexes
		p.Multiple = c.Choice.Multiple
	case c.Scale != nil:
		p.OptionCount = c.Scale.OptionCount
		p.Template = c.Scale.Template
	case c.Wordcloud != nil:
		p.MaxAnswers = c.Wordcloud.MaxAnswers
	case c.Priorization != nil:
		p.Options = c.Priorization.Options
	}
	return p
}

func (h *handler) createContent(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if _, err := h.requireModerator(r, roomID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.store.GetRoom(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}

	var payload contentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeContentUnknownFormat, "invalid content payload"))
		return
	}
	c, err := payload.toDomain(roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	contentID, err := id.NewID()
	if err != nil {
		writeError(w, fmt.Errorf("generate content id: %w", err))
		return
	}
	c.ID = contentID
	if err := h.store.PutContent(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contentToPayload(c))
}

func (h *handler) listContents(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if _, err := h.requireParticipant(r, roomID); err != nil {
		writeError(w, err)
		return
	}
	contents, err := h.store.ListContents(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	payloads := make([]contentPayload, 0, len(contents))
	for _, c := range contents {
		payloads = append(payloads, contentToPayload(c))
	}
	writeJSON(w, http.StatusOK, payloads)
}

type answerRequest struct {
	CreatorID       string   `json:"creator_id,omitempty"`
	Round           int      `json:"round,omitempty"`
	SelectedIndexes []int    `json:"selected_indexes,omitempty"`
	Body            string   `json:"body,omitempty"`
	Texts           []string `json:"texts,omitempty"`
	Priorities      []int    `json:"priorities,omitempty"`
}

type answerResponse struct {
	ID      string  `json:"id"`
	Created bool    `json:"created"`
	State   string  `json:"state"`
	Points  float64 `json:"points"`
}

func (h *handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	contentID := r.PathValue("content")

	claims, err := h.requireParticipant(r, roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.store.GetContent(r.Context(), contentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.RoomID != roomID {
		writeError(w, storage.ErrNotFound)
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeAnswerShapeMismatch, "invalid answer payload"))
		return
	}

	creatorID := claims.UserID
	if h.auth == nil && strings.TrimSpace(req.CreatorID) != "" {
		creatorID = strings.TrimSpace(req.CreatorID)
	}
	if creatorID == "" {
		writeError(w, apperrors.New(apperrors.CodeAnswerEmptyCreatorID, "answer creator id is required"))
		return
	}

	round := req.Round
	if round == 0 {
		round = c.CurrentRound()
	}
	if round != 1 && round != 2 {
		writeError(w, apperrors.New(apperrors.CodeAnswerInvalidRound, "answer round must be 1 or 2"))
		return
	}

	answerID, err := id.NewID()
	if err != nil {
		writeError(w, fmt.Errorf("generate answer id: %w", err))
		return
	}
	a := answer.Answer{
		ID:              answerID,
		ContentID:       contentID,
		RoomID:          roomID,
		CreatorID:       creatorID,
		Format:          c.Format,
		Round:           round,
		SelectedIndexes: req.SelectedIndexes,
		Body:            req.Body,
		Texts:           req.Texts,
		Priorities:      req.Priorities,
	}
	if err := validateAnswerShape(c, a); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.store.UpsertAnswer(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := scoring.Evaluate(c, a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, answerResponse{
		ID:      a.ID,
		Created: created,
		State:   string(result.State),
		Points:  result.AchievedPoints,
	})
}

// validateAnswerShape rejects payloads that do not fit the content's answer
// shape before they reach storage.
func validateAnswerShape(c content.Content, a answer.Answer) error {
	shape, err := content.Shape(c.Format)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeContentUnknownFormat, "unknown content format", err)
	}
	switch shape {
	case content.ShapeSelection:
		if a.Body != "" || len(a.Texts) > 0 || len(a.Priorities) > 0 {
			return apperrors.New(apperrors.CodeAnswerShapeMismatch, "selection contents accept selected indexes only")
		}
		for _, idx := range a.SelectedIndexes {
			if idx < 0 || idx >= c.OptionCount() {
				return apperrors.New(apperrors.CodeAnswerShapeMismatch,
					fmt.Sprintf("selected index %d outside options range", idx))
			}
		}
	case content.ShapeText:
		if len(a.SelectedIndexes) > 0 || len(a.Texts) > 0 || len(a.Priorities) > 0 {
			return apperrors.New(apperrors.CodeAnswerShapeMismatch, "text contents accept a body only")
		}
	case content.ShapeTexts:
		if len(a.SelectedIndexes) > 0 || a.Body != "" || len(a.Priorities) > 0 {
			return apperrors.New(apperrors.CodeAnswerShapeMismatch, "wordcloud contents accept texts only")
		}
	case content.ShapePriority:
		if len(a.SelectedIndexes) > 0 || a.Body != "" || len(a.Texts) > 0 {
			return apperrors.New(apperrors.CodeAnswerShapeMismatch, "priorization contents accept priorities only")
		}
		if len(a.Priorities) > 0 && len(a.Priorities) != c.OptionCount() {
			return apperrors.New(apperrors.CodeAnswerShapeMismatch, "priorities must cover every option")
		}
	}
	return nil
}

func (h *handler) contentStats(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	contentID := r.PathValue("content")

	if _, err := h.requireParticipant(r, roomID); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.store.GetContent(r.Context(), contentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.RoomID != roomID {
		writeError(w, storage.ErrNotFound)
		return
	}
	answers, err := h.store.ListAnswers(r.Context(), contentID, c.CurrentRound())
	if err != nil {
		writeError(w, err)
		return
	}
	statistics, err := stats.Aggregate(c, answers, c.CurrentRound())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statistics)
}

// wsFrame is the envelope of every WebSocket exchange. Inbound frames carry
// a command type; outbound broadcast frames additionally carry the routing
// key they were published under.
type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Key       string          `json:"key,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error errorBody `json:"error"`
}

type subscribePayload struct {
	RoomID string `json:"room_id"`
	Token  string `json:"token,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type subscribedPayload struct {
	RoomID   string                 `json:"room_id"`
	Feedback feedbackChangedPayload `json:"feedback"`
	Locked   bool                   `json:"locked"`
}

type feedbackCreatePayload struct {
	Value int `json:"value"`
}

type feedbackLockPayload struct {
	Locked bool `json:"locked"`
}

type ackPayload struct {
	Status string `json:"status"`
}

// wsPeer serializes frame writes; the broadcast pump and the command loop
// both write to the same connection.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	enc  *json.Encoder
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, enc: json.NewEncoder(conn)}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.WSWrite))
	return p.enc.Encode(frame)
}

// wsSession tracks one connection's room subscription and identity.
type wsSession struct {
	peer   *wsPeer
	claims RoomClaims
	sub    *Subscriber
}

func (h *handler) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	session := &wsSession{peer: newWSPeer(conn)}
	defer func() {
		if session.sub != nil {
			h.hub.Unsubscribe(session.sub)
		}
	}()

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", apperrors.CodeUnknown, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeUnknown, "payload too large")
			continue
		}

		switch frame.Type {
		case "room.subscribe":
			h.handleSubscribeFrame(conn.Request().Context(), session, frame)
		case "feedback.create":
			h.handleFeedbackCreateFrame(session, frame)
		case "feedback.reset":
			h.handleFeedbackResetFrame(session, frame)
		case "feedback.lock":
			h.handleFeedbackLockFrame(session, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeUnknown, "unsupported frame type")
		}
	}
}

func (h *handler) handleSubscribeFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload subscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeUnknown, "invalid subscribe payload")
		return
	}
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeRoomIDEmpty, "room_id is required")
		return
	}

	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		writeWSDomainError(session.peer, frame.RequestID, err)
		return
	}

	claims := RoomClaims{UserID: strings.TrimSpace(payload.UserID), RoomID: roomID, Role: RoleModerator}
	if claims.UserID == "" {
		claims.UserID = "participant"
	}
	if h.auth != nil {
		verified, err := h.auth.Verify(payload.Token, roomID)
		if err != nil {
			writeWSDomainError(session.peer, frame.RequestID, err)
			return
		}
		claims = verified
	}

	if session.sub != nil {
		h.hub.Unsubscribe(session.sub)
	}
	session.claims = claims
	session.sub = h.hub.Subscribe(roomID, subscriberBuffer)
	go pumpDeliveries(session.peer, session.sub)

	histogram, err := h.feedback.Histogram(roomID)
	if err != nil {
		writeWSDomainError(session.peer, frame.RequestID, err)
		return
	}
	locked, err := h.feedback.Locked(roomID)
	if err != nil {
		writeWSDomainError(session.peer, frame.RequestID, err)
		return
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "room.subscribed",
		RequestID: frame.RequestID,
		Payload: mustJSON(subscribedPayload{
			RoomID:   roomID,
			Feedback: feedbackChangedPayload{Values: histogram, Total: histogram.Total()},
			Locked:   locked,
		}),
	})
}

// pumpDeliveries forwards hub deliveries to the peer until the subscriber
// channel closes.
func pumpDeliveries(peer *wsPeer, sub *Subscriber) {
	for delivery := range sub.C() {
		frame := wsFrame{
			Type:    delivery.Message.Type,
			Key:     delivery.Key,
			Payload: mustJSON(delivery.Message.Payload),
		}
		if err := peer.writeFrame(frame); err != nil {
			log.Printf("interaction: websocket write failed, dropping subscriber: %v", err)
			return
		}
	}
}

func (h *handler) handleFeedbackCreateFrame(session *wsSession, frame wsFrame) {
	if session.sub == nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeNotFound, "subscribe to a room first")
		return
	}
	var payload feedbackCreatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeFeedbackInvalidValue, "invalid feedback payload")
		return
	}
	if err := h.feedback.SubmitVote(session.claims.RoomID, session.claims.UserID, payload.Value); err != nil {
		writeWSDomainError(session.peer, frame.RequestID, err)
		return
	}
	writeWSAck(session.peer, frame.RequestID)
}

func (h *handler) handleFeedbackResetFrame(session *wsSession, frame wsFrame) {
	if !h.requireWSModerator(session, frame) {
		return
	}
	if err := h.feedback.Reset(session.claims.RoomID); err != nil {
		writeWSDomainError(session.peer, frame.RequestID, err)
		return
	}
	writeWSAck(session.peer, frame.RequestID)
}

func (h *handler) handleFeedbackLockFrame(session *wsSession, frame wsFrame) {
	if !h.requireWSModerator(session, frame) {
		return
	}
	var payload feedbackLockPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeUnknown, "invalid lock payload")
		return
	}
	if err := h.feedback.SetLocked(session.claims.RoomID, payload.Locked); err != nil {
		writeWSDomainError(session.peer, frame.RequestID, err)
		return
	}
	writeWSAck(session.peer, frame.RequestID)
}

func (h *handler) requireWSModerator(session *wsSession, frame wsFrame) bool {
	if session.sub == nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeNotFound, "subscribe to a room first")
		return false
	}
	if !session.claims.Moderator() {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeModeratorRequired, "operation requires a moderator token")
		return false
	}
	return true
}

func writeWSAck(peer *wsPeer, requestID string) {
	_ = peer.writeFrame(wsFrame{
		Type:      "ack",
		RequestID: requestID,
		Payload:   mustJSON(ackPayload{Status: "ok"}),
	})
}

func writeWSDomainError(peer *wsPeer, requestID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		err = apperrors.Wrap(apperrors.CodeNotFound, "record not found", err)
	}
	message := err.Error()
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	_ = writeWSError(peer, requestID, apperrors.GetCode(err), message)
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{Error: errorBody{
			Code:    string(code),
			Message: message,
		}}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("interaction: marshal frame payload: %v", err)
		return nil
	}
	return b
}
