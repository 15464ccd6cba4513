package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/persist"
	"github.com/lexiqai/convo-coach/internal/session"
	"github.com/rs/zerolog"
)

// Sessions is the controller surface the API drives
type Sessions interface {
	StartLive(ctx context.Context, opts session.StartOptions) (session.Snapshot, error)
	StartFile(ctx context.Context, data []byte, filename string, opts session.StartOptions) (session.Snapshot, error)
	SendAudio(chunk []byte) error
	Stop(ctx context.Context) (session.Snapshot, error)
	Analyze(ctx context.Context) (session.Snapshot, error)
	Reset() session.Snapshot
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

// Options configures the HTTP surface
type Options struct {
	SampleRate     int   // provider PCM rate media is converted to
	MaxUploadBytes int64 // larger uploads are rejected with 413
}

// Server exposes the session controller over HTTP and websockets
type Server struct {
	sessions Sessions
	records  persist.RecordStore
	opts     Options
	logger   zerolog.Logger
}

// NewServer creates the API. records may be nil, in which case the record
// endpoints are not registered.
func NewServer(sessions Sessions, records persist.RecordStore, opts Options) *Server {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	return &Server{
		sessions: sessions,
		records:  records,
		opts:     opts,
		logger:   observability.GetLogger().With().Str("component", "api").Logger(),
	}
}

// Register adds the API routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", s.handleSnapshot)
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("POST /v1/session/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /v1/session/reset", s.handleReset)
	mux.HandleFunc("POST /v1/uploads", s.handleUpload)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/live", s.handleLive)
	if s.records != nil {
		mux.HandleFunc("GET /v1/records", s.handleListRecords)
		mux.HandleFunc("GET /v1/records/{id}", s.handleGetRecord)
	}
}

// Handler returns a mux with only the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type startRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"kind,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	snap, err := s.sessions.StartLive(context.WithoutCancel(r.Context()), session.StartOptions{UserID: req.UserID, Title: req.Title})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Stop(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Analyze(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Reset())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	if header.Size > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("recording exceeds the upload limit"))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := session.StartOptions{UserID: r.FormValue("userId"), Title: r.FormValue("title")}
	// the replay outlives the request
	snap, err := s.sessions.StartFile(context.WithoutCancel(r.Context()), data, header.Filename, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info().Str("session_id", snap.SessionID).Str("filename", header.Filename).Int("bytes", len(data)).Msg("Upload accepted")
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, 100)
	}
	recs, err := s.records.List(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// fail maps controller and store errors onto status codes
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeError(w, code, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, persist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case failure.Is(err, failure.KindAcquisition):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, newErrorResponse(err))
}

func newErrorResponse(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	if kind, ok := failure.KindOf(err); ok {
		resp.Kind = kind
	}
	return resp
}
