package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ServerConfig holds the parameters for NewServer.
type ServerConfig struct {
	Addr string
	TLS  *tls.Config

	// IdleTimeout closes a connection that sends no complete request line
	// for this long. Zero means 5 minutes; negative disables it.
	IdleTimeout time.Duration

	// MaxLineBytes bounds a request line. Zero means 4 KiB.
	MaxLineBytes int

	HandshakeTimeout time.Duration
}

// Server accepts TLS connections and runs one handler goroutine per
// connection. All handlers share one Dispatcher and therefore one store lock.
type Server struct {
	cfg        ServerConfig
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	ready chan struct{}
}

func NewServer(cfg ServerConfig, d *Dispatcher, logger *slog.Logger) *Server {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4096
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.With("component", "gateway"),
		conns:      make(map[net.Conn]struct{}),
		ready:      make(chan struct{}),
	}
}

// ListenAndServe listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln (wrapped in TLS when configured) until ctx
// is cancelled, then closes the listener and every open connection and
// waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)

	stop := context.AfterFunc(ctx, s.shutdown)
	defer stop()

	s.logger.Info("gateway listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.shutdown()
				s.wg.Wait()
				s.logger.Info("gateway stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", "err", err, "backoff", backoff.String())
				time.Sleep(backoff)
				continue
			}
			s.shutdown()
			s.wg.Wait()
			return fmt.Errorf("gateway accept: %w", err)
		}
		backoff = 0

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

// Addr blocks until Serve has started and returns the listening address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln.Addr()
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, c)
	}
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.logger.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())

	if tc, ok := conn.(*tls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			log.Debug("tls handshake failed", "err", err)
			return
		}
	}
	log.Debug("connection opened")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 1024), s.cfg.MaxLineBytes)
	w := bufio.NewWriter(conn)

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if !sc.Scan() {
			s.logClose(log, sc.Err())
			if errors.Is(sc.Err(), bufio.ErrTooLong) {
				_ = s.reply(conn, w, "")
			}
			return
		}

		resp := s.dispatcher.HandleLine(ctx, sc.Text())
		if err := s.reply(conn, w, resp); err != nil {
			s.logClose(log, err)
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, w *bufio.Writer, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) logClose(log *slog.Logger, err error) {
	switch {
	case err == nil || isExpectedCloseError(err):
		log.Debug("connection closed")
	case errors.Is(err, os.ErrDeadlineExceeded):
		log.Info("connection idle, closing")
	case errors.Is(err, bufio.ErrTooLong):
		log.Warn("request line too long, closing", "max_bytes", s.cfg.MaxLineBytes)
	default:
		log.Warn("connection failed", "err", err)
	}
}

// isExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe or reset by peer.
func isExpectedCloseError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
