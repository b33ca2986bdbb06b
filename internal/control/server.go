package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tfdoom/internal/observability"
	"github.com/danmuck/tfdoom/internal/terraform"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrBind          = errors.New("control: bind failed")
	ErrNoData        = errors.New("control: connection closed before sending an instruction")
	ErrRead          = errors.New("control: read failed")
	ErrWrite         = errors.New("control: write failed")
	ErrListingFailed = errors.New("control: listing failed")
)

const (
	DefaultSocketPath     = "/dockerdoom.socket"
	DefaultMaxConnections = 1
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second

	// ReadBufferSize bounds the single read that carries an instruction.
	ReadBufferSize = 256
)

// Backend is the infrastructure-state surface the dispatcher drives.
type Backend interface {
	ListResources(ctx context.Context) terraform.Listing
	DestroyResource(ctx context.Context, id string) error
}

// Config shapes the listener and per-connection limits.
type Config struct {
	SocketPath     string
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		SocketPath:     DefaultSocketPath,
		MaxConnections: DefaultMaxConnections,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.SocketPath) == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Server accepts control connections and dispatches one instruction per
// connection. With MaxConnections=1 connections are handled strictly in
// arrival order.
type Server struct {
	cfg     Config
	backend Backend

	mu      sync.Mutex
	ln      net.Listener
	bound   os.FileInfo
	serving atomic.Bool
}

func NewServer(cfg Config, backend Backend) *Server {
	return &Server{cfg: cfg.WithDefaults(), backend: backend}
}

func (s *Server) Config() Config {
	return s.cfg
}

// Listen binds the configured path. A socket file left behind by a dead
// server is removed first; one that still accepts connections is an ErrBind.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	path := s.cfg.SocketPath
	if err := removeStaleSocket(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
	}
	// The file is removed by removeSocket, and only while it is still ours.
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	bound, err := os.Lstat(path)
	if err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
	}
	s.ln = ln
	s.bound = bound
	log.Info().Str("path", path).Msg("control.Server.Listen bound")
	return nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove non-socket file")
	}
	if socketAlive(path) {
		return fmt.Errorf("socket already in use")
	}
	log.Info().Str("path", path).Msg("control.Server.Listen removing stale socket")
	return os.Remove(path)
}

func socketAlive(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// removeSocket unlinks the socket path if it still names the file this
// server bound. Caller holds s.mu.
func (s *Server) removeSocket() {
	if s.bound == nil {
		return
	}
	path := s.cfg.SocketPath
	info, err := os.Lstat(path)
	if err == nil && os.SameFile(info, s.bound) {
		_ = os.Remove(path)
	} else if err == nil {
		log.Warn().Str("path", path).Msg("control.Server socket replaced, leaving it in place")
	}
	s.bound = nil
}

// Close releases a bound listener that never reached Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	s.removeSocket()
	return err
}

// Serving reports whether the accept loop is running.
func (s *Server) Serving() bool {
	return s.serving.Load()
}

// Serve runs the accept loop until ctx is cancelled, then waits for
// in-flight connections and removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	s.serving.Store(true)
	defer s.serving.Store(false)
	log.Info().
		Str("path", s.cfg.SocketPath).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("control.Server.Serve accepting")

	slots := semaphore.NewWeighted(int64(s.cfg.MaxConnections))
	var wg sync.WaitGroup
	for {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			slots.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Msg("control.Server.Serve accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)
			s.handleConn(ctx, conn)
		}()
	}

	wg.Wait()
	_ = ln.Close()
	s.mu.Lock()
	s.ln = nil
	s.removeSocket()
	s.mu.Unlock()
	log.Info().Str("path", s.cfg.SocketPath).Msg("control.Server.Serve shutdown")
	return nil
}

// handleConn confines every failure to this connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	release := observability.TrackConnection()
	defer release()

	start := time.Now()
	inst, err := s.handle(ctx, conn)
	outcome := outcomeFor(err)
	observability.RecordControlRequest(string(inst.Verb), outcome, time.Since(start))

	var event *zerolog.Event
	switch outcome {
	case "ok":
		event = log.Info()
	case "rejected", "no_data":
		event = log.Debug()
	default:
		event = log.Warn()
	}
	event.
		Str("verb", string(inst.Verb)).
		Str("resource", inst.Resource).
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("control.Server.handleConn done")
}

func (s *Server) handle(ctx context.Context, conn net.Conn) (Instruction, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	buf := make([]byte, ReadBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return Instruction{}, ErrNoData
		}
		return Instruction{}, fmt.Errorf("%w: %v", ErrRead, err)
	}

	inst, err := ParseInstruction(buf[:n])
	if err != nil {
		return inst, err
	}

	switch inst.Verb {
	case VerbList:
		return inst, s.replyList(ctx, conn)
	case VerbKill:
		// A destroy that has started is allowed to finish through shutdown.
		return inst, s.backend.DestroyResource(context.WithoutCancel(ctx), inst.Resource)
	default:
		return inst, ErrUnknownVerb
	}
}

func (s *Server) replyList(ctx context.Context, conn net.Conn) error {
	listing := s.backend.ListResources(ctx)

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	w := bufio.NewWriter(conn)
	for _, id := range listing.Resources {
		if _, err := w.WriteString(id + "\n"); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := closeWrite(conn); err != nil {
		return fmt.Errorf("%w: half-close: %v", ErrWrite, err)
	}

	if listing.Failed() {
		return fmt.Errorf("%w: outcome=%s: %v", ErrListingFailed, listing.Outcome, listing.Err)
	}
	return nil
}

type halfCloser interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) error {
	if hc, ok := conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrEmptyInstruction),
		errors.Is(err, ErrUnknownVerb),
		errors.Is(err, ErrMissingIdentifier),
		errors.Is(err, terraform.ErrEmptyResourceID):
		return "rejected"
	case errors.Is(err, ErrRead):
		return "read_failed"
	case errors.Is(err, ErrWrite):
		return "write_failed"
	case errors.Is(err, ErrListingFailed), errors.Is(err, terraform.ErrDestroyFailed):
		return "backend_failed"
	default:
		return "error"
	}
}
