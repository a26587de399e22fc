package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/session"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// liveConn adapts one websocket to the speech interfaces of a session
// controller. Utterances arrive as say frames; speech leaves as speak frames.
type liveConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	said    chan string
	done    chan struct{}
}

func (c *liveConn) send(f models.LiveFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(f)
}

func (c *liveConn) Supported() error { return nil }

func (c *liveConn) Listen(ctx context.Context) (string, error) {
	select {
	case text := <-c.said:
		return text, nil
	case <-c.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *liveConn) Speak(_ context.Context, text string) error {
	return c.send(models.LiveFrame{Type: models.FrameSpeak, Text: text})
}

func (c *liveConn) Stop()          {}
func (c *liveConn) Speaking() bool { return false }

// authorized is the Authenticator for a socket whose token was checked at
// upgrade time.
type authorized struct{}

func (authorized) IsAuthenticated(context.Context) bool { return true }

// live runs a voice session over a websocket. Browsers cannot set headers on
// the upgrade request, so the token may also come from ?token=.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	if tok := r.URL.Query().Get("token"); tok != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	if _, ok := tokenRole(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "未认证")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("live upgrade failed", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	c := &liveConn{conn: ws, said: make(chan string, 8), done: make(chan struct{})}
	ctrl := session.New(session.Config{
		Remote:   s,
		Auth:     authorized{},
		Capture:  c,
		Playback: c,
		Recorder: s.store,
		OnChange: func(snap models.Session) {
			if err := c.send(models.LiveFrame{Type: models.FrameSession, Session: &snap}); err != nil {
				s.log.Debug("live send failed", "error", err)
			}
		},
		Logger: s.log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer close(c.done)
		for {
			var f models.LiveFrame
			if err := ws.ReadJSON(&f); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("live read ended", "error", err)
				}
				cancel()
				return
			}
			switch f.Type {
			case models.FrameSay:
				select {
				case c.said <- f.Text:
				case <-ctx.Done():
					return
				}
			case models.FrameReset:
				ctrl.Reset()
			default:
				_ = c.send(models.LiveFrame{Type: models.FrameSpeak, Text: fmt.Sprintf("未知消息类型: %s", f.Type)})
			}
		}
	}()

	s.log.Info("live session opened", "remote", r.RemoteAddr)
	_ = c.send(models.LiveFrame{Type: models.FrameSession, Session: ptr(ctrl.Snapshot())})
	for ctx.Err() == nil {
		_, err := ctrl.RunTurn(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			break
		}
		switch ctrl.Snapshot().Stage {
		case models.StageCompleted:
			_ = ctrl.Restart()
		case models.StageIdle:
		default:
			ctrl.Reset()
		}
	}
	ctrl.Reset()
	s.log.Info("live session closed", "remote", r.RemoteAddr)
}

func ptr[T any](v T) *T { return &v }
