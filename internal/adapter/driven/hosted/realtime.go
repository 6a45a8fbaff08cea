package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

const (
	realtimePath = "/realtime/v1/websocket"
	writeWait    = 5 * time.Second
)

// ChangeEvent is a row change delivered by a realtime subscription.
type ChangeEvent struct {
	Table     string
	Type      string // INSERT, UPDATE or DELETE
	Record    model.Row
	OldRecord model.Row
}

// ChangeHandler receives change events. Handlers run on the subscription's
// read goroutine and must not block.
type ChangeHandler func(ChangeEvent)

// Subscription is a live change feed for one table.
type Subscription struct {
	client  *Client
	table   string
	topic   string
	conn    *websocket.Conn
	handler ChangeHandler
	logger  *slog.Logger

	writeMu   sync.Mutex
	ref       atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changePayload struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Record    model.Row      `json:"record"`
	OldRecord model.Row      `json:"old_record"`
	Data      *changePayload `json:"data"`
}

// Subscribe opens a realtime connection and joins the change feed of table
// in the public schema. ctx bounds the handshake only; the subscription ends
// when Close is called on it or on the client.
func (c *Client) Subscribe(ctx context.Context, table string, handler ChangeHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("subscribe: handler is required")
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClientClosed
	}

	wsURL, err := c.realtimeURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	sub := &Subscription{
		client:  c,
		table:   table,
		topic:   "realtime:public:" + table,
		conn:    conn,
		handler: handler,
		logger:  c.logger.With("table", table),
		done:    make(chan struct{}),
	}

	join := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": "public", "table": table},
			},
		},
	}
	if err := sub.send(sub.topic, "phx_join", join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("realtime join %s: %w", table, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClientClosed
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go sub.readLoop()
	go sub.heartbeatLoop(c.heartbeat)

	return sub, nil
}

// Close closes every open subscription and rejects new ones. Plain HTTP
// requests keep working so that calls already holding the handle finish.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[*Subscription]struct{})
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscriptions returns the number of open subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Client) forget(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

func (c *Client) realtimeURL() (string, error) {
	u, err := url.Parse(c.baseURL + realtimePath)
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("realtime url: unsupported scheme %q", u.Scheme)
	}
	query := url.Values{}
	query.Set("apikey", c.creds.ServiceKey)
	query.Set("vsn", "1.0.0")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Table returns the subscribed table.
func (s *Subscription) Table() string {
	return s.table
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close leaves the channel and closes the connection. It is safe to call
// more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.forget(s)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteJSON(s.message(s.topic, "phx_leave", map[string]any{}))
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) message(topic, event string, payload any) map[string]any {
	return map[string]any{
		"topic":   topic,
		"event":   event,
		"payload": payload,
		"ref":     strconv.FormatInt(s.ref.Add(1), 10),
	}
}

func (s *Subscription) send(topic, event string, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(s.message(topic, event, payload))
}

func (s *Subscription) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("realtime connection ended", "error", err)
				_ = s.Close()
			}
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("realtime message malformed", "error", err)
			continue
		}
		if msg.Topic != s.topic {
			continue
		}
		if event, ok := parseChange(s.table, msg); ok {
			s.handler(event)
		}
	}
}

func (s *Subscription) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send("phoenix", "heartbeat", map[string]any{}); err != nil {
				s.logger.Debug("realtime heartbeat failed", "error", err)
				_ = s.Close()
				return
			}
		}
	}
}

// parseChange accepts both the postgres_changes envelope, where the change
// sits under payload.data, and the older form where the event name is the
// change type.
func parseChange(table string, msg phxMessage) (ChangeEvent, bool) {
	switch msg.Event {
	case "postgres_changes", "INSERT", "UPDATE", "DELETE":
	default:
		return ChangeEvent{}, false
	}

	var payload changePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return ChangeEvent{}, false
	}
	if payload.Data != nil {
		payload = *payload.Data
	}
	if payload.Type == "" && msg.Event != "postgres_changes" {
		payload.Type = msg.Event
	}
	if payload.Type == "" {
		return ChangeEvent{}, false
	}
	if payload.Table == "" {
		payload.Table = table
	}

	return ChangeEvent{
		Table:     payload.Table,
		Type:      payload.Type,
		Record:    payload.Record,
		OldRecord: payload.OldRecord,
	}, true
}
