package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"rgblight/internal/core"
	"rgblight/internal/scheduler"
)

// Writer applies endpoint writes.
type Writer interface {
	Write(attr core.Attribute, data []byte) error
}

// ScriptRunner runs ad-hoc Lua scripts.
type ScriptRunner interface {
	Run(ctx context.Context, name, code string) error
	Stop()
}

// Schedules manages scheduled scripts.
type Schedules interface {
	Add(name, spec, script string) (cron.EntryID, error)
	Remove(id cron.EntryID) bool
	Entries() []scheduler.Entry
}

// Options configures a Server. Bus and Writer are required; Scripts,
// Schedules and Metrics may be nil.
type Options struct {
	Addr           string
	WebFilesDir    string
	AllowedOrigins []string
	Writer         Writer
	Bus            *core.EventBus
	Scripts        ScriptRunner
	Schedules      Schedules
	Metrics        http.Handler
}

// Server mirrors the control surface over WebSocket and serves /metrics and
// /healthz.
type Server struct {
	Hub        *Hub
	writer     Writer
	bus        *core.EventBus
	sub        *core.Subscriber
	scripts    ScriptRunner
	schedules  Schedules
	httpServer *http.Server
	logger     zerolog.Logger

	allowedOrigins []string
	upgrader       websocket.Upgrader

	// scripts started by clients live until Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new server instance.
func NewServer(opts Options, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Hub:            NewHub(logger),
		writer:         opts.Writer,
		bus:            opts.Bus,
		sub:            opts.Bus.Subscribe(),
		scripts:        opts.Scripts,
		schedules:      opts.Schedules,
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
		ctx:            ctx,
		cancel:         cancel,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	mux := http.NewServeMux()
	if opts.WebFilesDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.WebFilesDir)))
	}
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	s.httpServer = &http.Server{Addr: opts.Addr, Handler: mux}
	return s
}

// checkOrigin admits clients without an Origin header (not a browser) and
// browsers from an allowed origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("WebSocket connection blocked: origin not in allowed list")
	return false
}

// Run drives the hub and mirrors bus events to clients until ctx ends.
func (s *Server) Run(ctx context.Context) {
	go s.Hub.Run(ctx)

	defer s.bus.Unsubscribe(s.sub)
	for {
		events, err := s.sub.Next(ctx)
		if err != nil {
			return
		}
		for _, ev := range events {
			s.Hub.Broadcast(NewMessage(MsgNotify, newAttributeValue(ev.Attribute, ev.Value)))
		}
	}
}

// ListenAndServe serves HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves HTTP on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and cancels client scripts.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

// snapshot returns every attribute's last published value.
func (s *Server) snapshot() []AttributeValue {
	out := make([]AttributeValue, 0, len(core.Attributes))
	for _, attr := range core.Attributes {
		if v, ok := s.bus.Value(attr); ok {
			out = append(out, newAttributeValue(attr, v))
		}
	}
	return out
}

func (s *Server) scheduleList() []scheduler.Entry {
	if s.schedules == nil {
		return []scheduler.Entry{}
	}
	return s.schedules.Entries()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	_ = conn.WriteJSON(NewMessage(MsgState, s.snapshot()))
	_ = conn.WriteJSON(NewMessage(MsgScheduleList, s.scheduleList()))

	if !s.Hub.add(conn) {
		return
	}
	defer s.Hub.remove(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := s.handle(raw); err != nil {
			s.Hub.Send(conn, NewMessage(MsgError, map[string]string{"error": err.Error()}))
		}
	}
}
