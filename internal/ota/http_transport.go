package ota

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/creativeprojects/go-selfupdate/update"
	"github.com/rs/zerolog"
)

// ApplyFunc writes a new image to the target executable.
type ApplyFunc func(image io.Reader, target string) error

func applyImage(image io.Reader, target string) error {
	return update.Apply(image, update.Options{TargetPath: target})
}

// HTTPTransport accepts a firmware image on POST /update while begun.
// Requests must carry the OTA password as the HTTP basic-auth password.
type HTTPTransport struct {
	addr     string
	password string
	target   string
	maxBytes int64
	apply    ApplyFunc
	logger   zerolog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	results  chan Result
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Addr     string
	Password string
	// Target is the executable to replace; empty means the running one.
	Target   string
	MaxBytes int64
	Apply    ApplyFunc
}

// NewHTTPTransport creates a stopped transport.
func NewHTTPTransport(opts HTTPOptions, logger zerolog.Logger) *HTTPTransport {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 64 << 20
	}
	if opts.Apply == nil {
		opts.Apply = applyImage
	}
	return &HTTPTransport{
		addr:     opts.Addr,
		password: opts.Password,
		target:   opts.Target,
		maxBytes: opts.MaxBytes,
		apply:    opts.Apply,
		logger:   logger,
		results:  make(chan Result, 1),
	}
}

// Begin starts listening.
func (t *HTTPTransport) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/update", t.handleUpdate)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	t.srv, t.listener = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.deliver(Result{Err: err})
		}
	}()
	t.logger.Info().Str("addr", ln.Addr().String()).Msg("OTA transport listening")
	return nil
}

// Addr returns the bound address, or "" when stopped.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// End closes the server and any in-flight upload.
func (t *HTTPTransport) End() error {
	t.mu.Lock()
	srv := t.srv
	t.srv, t.listener = nil, nil
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Poll returns a finished transfer, if any, without blocking.
func (t *HTTPTransport) Poll() (Result, bool) {
	select {
	case r := <-t.results:
		return r, true
	default:
		return Result{}, false
	}
}

// deliver keeps only the latest result.
func (t *HTTPTransport) deliver(r Result) {
	for {
		select {
		case t.results <- r:
			return
		default:
		}
		select {
		case <-t.results:
		default:
		}
	}
}

func (t *HTTPTransport) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, pass, ok := r.BasicAuth()
	if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(t.password)) != 1 {
		w.Header().Set("WWW-Authenticate", `Basic realm="ota"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	target := t.target
	if target == "" {
		exe, err := selfupdate.ExecutablePath()
		if err != nil {
			t.fail(w, fmt.Errorf("failed to get executable path: %w", err))
			return
		}
		target = exe
	}

	t.logger.Info().Str("remote", r.RemoteAddr).Str("target", target).Msg("Receiving firmware image")
	body := http.MaxBytesReader(w, r.Body, t.maxBytes)
	if err := t.apply(body, target); err != nil {
		t.fail(w, fmt.Errorf("failed to apply image: %w", err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	t.deliver(Result{Applied: true})
}

func (t *HTTPTransport) fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
	t.deliver(Result{Err: err})
}
