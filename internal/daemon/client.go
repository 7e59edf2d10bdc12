package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client sends one-shot commands to a running daemon over its unix socket.
// Used by the CLI front-end.
type Client struct {
	SocketPath   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a Client with default timeouts.
func NewClient(socketPath string) *Client {
	return &Client{
		SocketPath:   socketPath,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// Send delivers one request and returns the daemon's response. Transport
// failures are returned as errors; application failures come back inside
// the Response.
func (c *Client) Send(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	payload = append(payload, '\n')

	conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && len(strings.TrimSpace(line)) == 0 {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("malformed response from daemon: %w", err)
	}
	return &resp, nil
}

// IsDaemonRunning reports whether a daemon answers on the socket.
func (c *Client) IsDaemonRunning() bool {
	resp, err := c.Send(Request{Cmd: "status"})
	return err == nil && resp.OK
}
