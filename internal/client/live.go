package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joescharf/voxpilot/internal/models"
)

// ErrLiveClosed is returned by Next once the backend has closed the session.
var ErrLiveClosed = errors.New("live session closed")

// LiveSession is a voice session driven by the backend over a websocket.
type LiveSession struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// liveURL maps the http(s) base URL onto the ws(s) session endpoint.
func (c *Client) liveURL() string {
	u := c.baseURL + "/session/live"
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// DialLive opens a live session with the stored token.
func (c *Client) DialLive(ctx context.Context) (*LiveSession, error) {
	tok := c.token(ctx)
	if tok == "" {
		return nil, ErrSessionExpired
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.liveURL(), h)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("dial live session: %w", err)
	}
	c.log.Debug("live session connected", "url", c.liveURL())
	return &LiveSession{conn: conn}, nil
}

func (l *LiveSession) send(f models.LiveFrame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(f)
}

// Say sends one utterance or confirmation reply.
func (l *LiveSession) Say(text string) error {
	return l.send(models.LiveFrame{Type: models.FrameSay, Text: text})
}

// Reset abandons the turn in progress.
func (l *LiveSession) Reset() error {
	return l.send(models.LiveFrame{Type: models.FrameReset})
}

// Next blocks for the next frame from the backend.
func (l *LiveSession) Next() (*models.LiveFrame, error) {
	var f models.LiveFrame
	if err := l.conn.ReadJSON(&f); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrLiveClosed
		}
		return nil, fmt.Errorf("read live frame: %w", err)
	}
	return &f, nil
}

// Close ends the session.
func (l *LiveSession) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}
