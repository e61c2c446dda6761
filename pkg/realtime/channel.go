package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is one persistent connection to the remote conversation service.
// A read pump delivers inbound events on Events(); the channel closes that
// stream when the connection ends, for whatever reason. Err() then reports
// the cause, or nil for a caller-initiated close.
type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events  chan ServerEvent
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	errMu   sync.Mutex
	readErr error
}

// Dial opens the channel with the short-lived credential as bearer token.
func Dial(ctx context.Context, url, bearer string, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)

	logger.Debug("opening realtime channel", slog.String("url", url))
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to open realtime channel: %w", err)
	}

	c := &Channel{
		conn:   conn,
		logger: logger,
		events: make(chan ServerEvent, 64),
		closed: make(chan struct{}),
	}
	go c.readPump()

	logger.Info("realtime channel open")
	return c, nil
}

// Events returns the inbound event stream. The channel is closed when the
// connection ends.
func (c *Channel) Events() <-chan ServerEvent {
	return c.events
}

// Send writes one client event. Safe for concurrent use.
func (c *Channel) Send(ev ClientEvent) error {
	select {
	case <-c.closed:
		return fmt.Errorf("channel is closed")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("failed to send %s: %w", ev.Type, err)
	}
	return nil
}

// Close tears the connection down. Idempotent. After Close, Err() reports
// nil even if the read pump saw the connection die underneath it.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		// Best-effort close frame; the peer may already be gone.
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
		c.writeMu.Unlock()
		c.logger.Info("realtime channel closed")
	})
	return err
}

// Err returns the reason the read pump stopped, or nil when the close was
// caller-initiated.
func (c *Channel) Err() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Channel) readPump() {
	defer close(c.events)

	for {
		var ev ServerEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.closed:
				// Caller-initiated teardown; not a transport failure.
			default:
				c.errMu.Lock()
				c.readErr = err
				c.errMu.Unlock()
				c.logger.Warn("realtime channel read failed", slog.String("error", err.Error()))
			}
			return
		}

		c.logger.Debug("received server event", slog.String("type", ev.Type))

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}
