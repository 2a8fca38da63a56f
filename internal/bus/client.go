// Package bus connects to NATS for mirroring narration progress events to
// out-of-process consumers.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// EventSubject is the subject one job's progress events publish on.
func EventSubject(jobID string) string {
	return "narration.event." + jobID
}

// Client wraps a NATS connection with the few helpers the daemon needs.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(_ context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("lectern-core"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

// PublishEvent mirrors one progress event. Mirroring is best-effort; a
// publish failure is logged and otherwise ignored.
func (c *Client) PublishEvent(jobID string, payload []byte) {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Publish(EventSubject(jobID), payload); err != nil {
		c.log.Warn("mirror event failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
