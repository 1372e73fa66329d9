// Package api exposes a [voice.Pool] to remote producers over HTTP.
//
// Voices acquired through the API may carry an owner tag. When such a voice
// is evicted, the owner learns about it from the event feed: the eviction
// callback publishes a "notified" event carrying the tag.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/voicepool/internal/eventfeed"
	"github.com/MrWong99/voicepool/internal/render"
	"github.com/MrWong99/voicepool/pkg/voice"
)

// Owner is the acquisition context the API passes to the pool. Hooks can
// recover the owner tag of an evicted voice with [OwnerOf].
type Owner string

// OwnerOf returns the owner tag of an acquisition context, or "" if the
// voice was not acquired through the API.
func OwnerOf(context any) string {
	o, _ := context.(Owner)
	return string(o)
}

// Publisher receives events produced by the API.
type Publisher interface {
	Publish(ev eventfeed.Event)
}

// LevelSource reports output bus levels, typically a [render.Meter].
type LevelSource interface {
	Levels() []render.BusLevel
}

// Option configures a [Server].
type Option func(*Server)

// WithPublisher sets where eviction notifications are published.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.events = p }
}

// WithLevels adds bus levels to the GET /pool response.
func WithLevels(l LevelSource) Option {
	return func(s *Server) { s.levels = l }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server serves the voice control plane. It is safe for concurrent use.
type Server struct {
	pool   *voice.Pool
	events Publisher
	levels LevelSource
	log    *slog.Logger

	mu     sync.Mutex
	owners map[voice.Handle]string
}

// New creates a [Server] for pool.
func New(pool *voice.Pool, opts ...Option) *Server {
	s := &Server{
		pool:   pool,
		log:    slog.Default(),
		owners: make(map[voice.Handle]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the control plane routes to mux:
//
//	POST   /voices                     acquire
//	GET    /voices                     list acquired voices
//	GET    /voices/{id}                describe one voice
//	DELETE /voices/{id}                free
//	GET    /voices/{id}/record         big-endian record image
//	PUT    /voices/{id}/state          {"state": "playing"|"stopped"}
//	PUT    /voices/{id}/offsets        full playback window
//	PUT    /voices/{id}/loop           {"enabled": bool}
//	PUT    /voices/{id}/loop_offset    {"offset": n}
//	PUT    /voices/{id}/end            {"offset": n}
//	PUT    /voices/{id}/current        {"offset": n}
//	PUT    /voices/{id}/ratio          {"ratio": f}
//	PUT    /voices/{id}/mix            device routing
//	PUT    /voices/{id}/adpcm          ADPCM loop context
//	PUT    /voices/{id}/ve             volume envelope
//	GET    /pool                       occupancy and settings
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /voices", s.handleAcquire)
	mux.HandleFunc("GET /voices", s.handleList)
	mux.HandleFunc("GET /voices/{id}", s.handleGet)
	mux.HandleFunc("DELETE /voices/{id}", s.handleFree)
	mux.HandleFunc("GET /voices/{id}/record", s.handleRecord)
	mux.HandleFunc("PUT /voices/{id}/state", s.handleState)
	mux.HandleFunc("PUT /voices/{id}/offsets", s.handleOffsets)
	mux.HandleFunc("PUT /voices/{id}/loop", s.handleLoop)
	mux.HandleFunc("PUT /voices/{id}/loop_offset", s.handleOffset(s.pool.SetVoiceLoopOffset))
	mux.HandleFunc("PUT /voices/{id}/end", s.handleOffset(s.pool.SetVoiceEndOffset))
	mux.HandleFunc("PUT /voices/{id}/current", s.handleOffset(s.pool.SetVoiceCurrentOffset))
	mux.HandleFunc("PUT /voices/{id}/ratio", s.handleRatio)
	mux.HandleFunc("PUT /voices/{id}/mix", s.handleMix)
	mux.HandleFunc("PUT /voices/{id}/adpcm", s.handleAdpcm)
	mux.HandleFunc("PUT /voices/{id}/ve", s.handleVe)
	mux.HandleFunc("GET /pool", s.handlePool)
}

// Handler returns a mux serving only the control plane routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// owner returns the tag recorded for h.
func (s *Server) owner(h voice.Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[h]
}

func (s *Server) setOwner(h voice.Handle, tag string) {
	if tag == "" {
		return
	}
	s.mu.Lock()
	s.owners[h] = tag
	s.mu.Unlock()
}

func (s *Server) dropOwner(h voice.Handle) {
	s.mu.Lock()
	delete(s.owners, h)
	s.mu.Unlock()
}

// notified runs on the notifier's goroutine when an API-owned voice is
// evicted. reason and aux are zero for simple callbacks.
func (s *Server) notified(h voice.Handle, context any, reason voice.Reason, aux uint32) {
	s.dropOwner(h)
	s.log.Info("api: voice evicted", "voice", h, "owner", OwnerOf(context), "by_priority", aux)
	if s.events == nil {
		return
	}
	ev := eventfeed.Event{
		Kind:  eventfeed.KindNotified,
		Voice: h.String(),
		Owner: OwnerOf(context),
		Aux:   aux,
	}
	if reason != 0 {
		ev.Reason = reason.String()
	}
	s.events.Publish(ev)
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps pool errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, voice.ErrInvalidHandle):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrInvalidState),
		errors.Is(err, voice.ErrInvalidOffsets),
		errors.Is(err, voice.ErrRatioOutOfRange),
		errors.Is(err, voice.ErrInvalidDevice),
		errors.Is(err, voice.ErrInvalidDeviceID),
		errors.Is(err, voice.ErrInvalidMix):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writePoolError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON request body, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// handle parses the {id} path segment. Malformed ids are reported as 404
// like any other unknown voice.
func handle(w http.ResponseWriter, r *http.Request) (voice.Handle, bool) {
	h, err := voice.ParseHandle(r.PathValue("id"))
	if err != nil {
		writePoolError(w, err)
		return voice.Handle{}, false
	}
	return h, true
}
