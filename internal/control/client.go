package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var ErrInvalidIdentifier = errors.New("control: resource identifier must be non-empty without whitespace")

// Client speaks the control protocol over the unix socket.
//
// Timeout bounds List and Send. KillTimeout bounds Kill and defaults to zero,
// meaning Kill waits as long as the destroy runs.
type Client struct {
	SocketPath  string
	Timeout     time.Duration
	KillTimeout time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath, Timeout: 5 * time.Minute}
}

// List returns the resource ids the server streams back before closing.
func (c *Client) List(ctx context.Context) ([]string, error) {
	raw, err := c.Send(ctx, Instruction{Verb: VerbList}.Encode())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

// Kill requests destruction of id and returns once the server has closed
// the connection, which happens after the destroy finished.
func (c *Client) Kill(ctx context.Context, id string) error {
	if id == "" || strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	_, err := c.send(ctx, Instruction{Verb: VerbKill, Resource: id}.Encode(), c.KillTimeout)
	return err
}

// Send writes payload on a fresh connection and reads until end of stream.
func (c *Client) Send(ctx context.Context, payload []byte) ([]byte, error) {
	return c.send(ctx, payload, c.Timeout)
}

func (c *Client) send(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", c.SocketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("control: write: %w", err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		return raw, fmt.Errorf("control: read: %w", err)
	}
	return raw, nil
}
