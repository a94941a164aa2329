package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"yt-analyzer-client/internal/entity"
)

// DefaultConnectTimeout is how long we wait for the server's
// "connected" confirmation before giving up on the realtime path.
const DefaultConnectTimeout = 3 * time.Second

// Events are the normalized callbacks a channel delivers. Callbacks
// must not block; they run on the channel's read goroutine.
type Events struct {
	OnProgress      func(entity.ProgressEvent)
	OnError         func(entity.ErrorEvent)
	OnCompleted     func(result json.RawMessage)
	OnConnectFailed func()
}

// frame is one wire message: {"event": "...", "data": {...}}.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Dialer opens realtime channels against one server.
type Dialer struct {
	// BaseURL is the websocket endpoint, e.g. ws://localhost:5000.
	BaseURL string
	// ConnectTimeout overrides DefaultConnectTimeout (tests).
	ConnectTimeout time.Duration
}

// Connect opens a channel scoped to jobID. It never blocks: dialing
// and confirmation happen on a background goroutine. Exactly one of
// {confirmed connection, OnConnectFailed} wins; the channel never
// reconnects on its own.
func (d *Dialer) Connect(jobID string, ev Events) *Channel {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c := &Channel{ev: ev, jobID: jobID}
	c.timer = time.AfterFunc(timeout, c.failConnect)

	go c.run(d.BaseURL, jobID, timeout)
	return c
}

type Channel struct {
	ev    Events
	jobID string

	mu    sync.Mutex
	conn  *websocket.Conn
	timer *time.Timer

	closed atomic.Bool
	// resolved burns exactly one of: confirmation, connect failure,
	// external Disconnect. Whichever comes first wins.
	resolved sync.Once
}

func (c *Channel) run(baseURL, jobID string, timeout time.Duration) {
	u := baseURL + "/socket?jobId=" + url.QueryEscape(jobID)

	dialCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u, nil)
	if err != nil {
		c.failConnect()
		return
	}

	c.mu.Lock()
	if c.closed.Load() {
		// Disconnect or timeout won while we were dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	confirmed := false
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !confirmed {
				c.failConnect()
			} else if !c.closed.Load() {
				log.Printf("[realtime] job_id=%s read closed: %v", jobID, err)
			}
			return
		}

		switch f.Event {
		case "connected":
			confirmed = true
			c.confirm()
		case "progress":
			// A data frame implies the connection is up even if the
			// confirmation frame got lost.
			if !confirmed {
				confirmed = true
				c.confirm()
			}
			var ev entity.ProgressEvent
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				log.Printf("[realtime] job_id=%s bad progress frame: %v", jobID, err)
				continue
			}
			if !c.closed.Load() && c.ev.OnProgress != nil {
				c.ev.OnProgress(ev)
			}
		case "error":
			var ev entity.ErrorEvent
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				ev = entity.ErrorEvent{JobID: jobID, Error: "analysis failed"}
			}
			if !c.closed.Load() && c.ev.OnError != nil {
				c.ev.OnError(ev)
			}
			// Terminal frame: the channel closes itself, as the
			// dashboard handler did.
			c.Disconnect()
			return
		case "completed":
			var data struct {
				Result json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(f.Data, &data); err != nil {
				log.Printf("[realtime] job_id=%s bad completed frame: %v", jobID, err)
				continue
			}
			if !c.closed.Load() && c.ev.OnCompleted != nil {
				c.ev.OnCompleted(data.Result)
			}
			c.Disconnect()
			return
		default:
			// unknown event, ignore
		}
	}
}

// confirm marks the connection established and disarms the timeout.
func (c *Channel) confirm() {
	c.resolved.Do(func() {
		c.timer.Stop()
	})
}

// failConnect resolves the race in favor of the fallback: it fires
// OnConnectFailed at most once and tears the channel down.
func (c *Channel) failConnect() {
	c.resolved.Do(func() {
		c.teardown()
		if c.ev.OnConnectFailed != nil {
			c.ev.OnConnectFailed()
		}
	})
}

// Disconnect releases the channel. Idempotent; safe on an
// already-closed channel; no new callbacks start after it returns.
func (c *Channel) Disconnect() {
	// An unresolved connect race resolves as plain teardown, so a
	// pending timeout can no longer trigger the fallback.
	c.resolved.Do(func() {})
	c.teardown()
}

func (c *Channel) teardown() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer.Stop()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
