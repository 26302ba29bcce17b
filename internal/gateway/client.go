package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// ClientConfig holds the parameters for NewClient.
type ClientConfig struct {
	Addr string
	TLS  *tls.Config
	// Timeout bounds dialing and each request when ctx has no deadline.
	Timeout time.Duration
}

// Client speaks the gateway protocol to a door controller. It is used by the
// admin CLI and by synchronization agents of other doors.
type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TLS == nil {
		cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Client{cfg: cfg}
}

func (c *Client) Addr() string { return c.cfg.Addr }

// Session is one open gateway connection carrying sequential requests.
type Session struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func (c *Client) Dial(ctx context.Context) (*Session, error) {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.cfg.Timeout},
		Config:    c.cfg.TLS,
	}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", c.cfg.Addr, err)
	}
	return &Session{conn: conn, r: bufio.NewReader(conn), timeout: c.cfg.Timeout}, nil
}

// Do sends req and returns the response line without terminator.
func (s *Session) Do(ctx context.Context, req Request) (string, error) {
	return s.DoLine(ctx, req.String())
}

// DoLine sends a raw request line. The line must not contain '\n'.
func (s *Session) DoLine(ctx context.Context, line string) (string, error) {
	if strings.ContainsRune(line, '\n') {
		return "", fmt.Errorf("%w: embedded newline", ErrGrammar)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.timeout)
	}
	_ = s.conn.SetDeadline(deadline)

	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("gateway write: %w", err)
	}
	resp, err := s.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("gateway read: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

func (s *Session) Close() error { return s.conn.Close() }

// Do runs a single request on a fresh connection.
func (c *Client) Do(ctx context.Context, req Request) (string, error) {
	s, err := c.Dial(ctx)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return s.Do(ctx, req)
}

// Search returns target's record line, or "" when the gateway rejects the
// request.
func (c *Client) Search(ctx context.Context, admin types.Identifier, password string, target types.Identifier) (string, error) {
	return c.Do(ctx, Request{Command: CmdSearch, Admin: admin, Password: password, Target: target})
}

func (c *Client) AddToken(ctx context.Context, admin types.Identifier, password string, target, token types.Identifier) error {
	_, err := c.Do(ctx, Request{Command: CmdAddToken, Admin: admin, Password: password, Target: target, Token: token})
	return err
}

func (c *Client) DeleteToken(ctx context.Context, admin types.Identifier, password string, target, token types.Identifier) error {
	_, err := c.Do(ctx, Request{Command: CmdDeleteToken, Admin: admin, Password: password, Target: target, Token: token})
	return err
}

func (c *Client) DeleteAll(ctx context.Context, admin types.Identifier, password string, target types.Identifier) error {
	_, err := c.Do(ctx, Request{Command: CmdDeleteAll, Admin: admin, Password: password, Target: target})
	return err
}

// ListTokens returns every token in the remote store. ErrRejected means the
// gateway answered with an empty line.
func (c *Client) ListTokens(ctx context.Context, admin types.Identifier, password string) ([]types.Token, error) {
	resp, err := c.Do(ctx, Request{Command: CmdListTokens, Admin: admin, Password: password, Target: admin})
	if err != nil {
		return nil, err
	}
	return decodeTokenList(resp)
}
