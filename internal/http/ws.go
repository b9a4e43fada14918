package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/readmore/internal/extract"
	"github.com/roelfdiedericks/readmore/internal/instance"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	. "github.com/roelfdiedericks/readmore/internal/metrics"
	"github.com/roelfdiedericks/readmore/internal/widget"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// a load frame may carry a whole host page
	maxFrameBytes = extract.MaxSourceBytes + 64<<10
)

// clientFrame is a message from the page.
type clientFrame struct {
	Type       string `json:"type"` // load, select, retry
	HTML       string `json:"html,omitempty"`
	Article    string `json:"article,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type stateFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	State widget.Snapshot `json:"state"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsConn is one websocket bound to one widget instance. Snapshots are
// coalesced: the writer always sends the latest one.
type wsConn struct {
	id   string
	conn *websocket.Conn

	mu      sync.Mutex
	latest  *stateFrame
	pending []errorFrame
	wake    chan struct{}
	done    chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// pushState queues a snapshot without blocking; it runs under the widget lock.
func (c *wsConn) pushState(id string, s widget.Snapshot) {
	c.mu.Lock()
	c.latest = &stateFrame{Type: "state", ID: id, State: s}
	c.mu.Unlock()
	c.signal()
}

func (c *wsConn) pushError(msg string) {
	c.mu.Lock()
	if len(c.pending) < 16 {
		c.pending = append(c.pending, errorFrame{Type: "error", Error: msg})
	}
	c.mu.Unlock()
	c.signal()
}

func (c *wsConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *wsConn) take() (*stateFrame, []errorFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, errs := c.latest, c.pending
	c.latest, c.pending = nil, nil
	return st, errs
}

func (c *wsConn) write(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeLoop(shutdown <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-shutdown:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				L_debug("http: ws ping failed", "id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-c.wake:
			st, errs := c.take()
			for _, e := range errs {
				if err := c.write(e); err != nil {
					c.conn.Close()
					return
				}
			}
			if st != nil {
				if err := c.write(st); err != nil {
					L_debug("http: ws write failed", "id", c.id, "error", err)
					c.conn.Close()
					return
				}
			}
		}
	}
}

// handleWS handles GET /ws: one connection is one widget instance
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("http: websocket upgrade failed", "error", err, "ip", getClientIP(r))
		return
	}
	c := newWSConn(conn)

	inst := instance.New(s.config(), instance.Options{
		Backend:  s.backend,
		Listener: c.pushState,
	})
	c.id = inst.ID
	s.addConn(c)
	MetricInc(TopicHTTP, "ws_opened")
	L_info("http: widget instance connected", "id", inst.ID, "ip", getClientIP(r))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop(s.shutdownChan)
	}()

	defer func() {
		inst.Close()
		close(c.done)
		conn.Close()
		s.removeConn(c)
		L_info("http: widget instance disconnected", "id", inst.ID)
	}()

	c.pushState(inst.ID, inst.Widget.Snapshot())

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				L_debug("http: ws read error", "id", inst.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.pushError("invalid frame: " + err.Error())
			continue
		}

		switch f.Type {
		case "load":
			if f.HTML != "" {
				inst.MountHTML(ctx, f.HTML)
			} else {
				inst.MountText(ctx, f.Article)
			}
		case "select":
			inst.Widget.Select(f.Suggestion)
		case "retry":
			if !inst.Widget.Retry() {
				c.pushError("retry is not available")
			}
		default:
			c.pushError("unknown frame type " + `"` + f.Type + `"`)
		}
	}
}
