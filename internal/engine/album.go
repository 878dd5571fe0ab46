package engine

import (
	"time"

	"reposter/internal/repost"
	logx "reposter/pkg/logx"
)

// albumKey scopes an album buffer to the tenant that received it. The same
// group id reaches every tenant listening on the source, and their buffers
// must never merge.
type albumKey struct {
	tenantID int64
	groupID  int64
}

// albumGroup buffers the parts of one multi-part burst in arrival order
// while its flush timer runs.
type albumGroup struct {
	msgs    []repost.InboundMessage
	timer   *time.Timer
	armedAt time.Time
}

// HandleInbound is the entry point for live messages, invoked by the
// transport subscription. It must return quickly: grouped messages are
// buffered, everything else is routed on a fresh goroutine.
func (e *Engine) HandleInbound(tenantID int64, msg repost.InboundMessage) {
	if msg.Text == "" && msg.MediaKey == "" {
		return
	}

	if msg.GroupID != 0 {
		e.bufferAlbumPart(tenantID, msg)
		return
	}

	e.routeAsync(tenantID, []repost.InboundMessage{msg})
}

// bufferAlbumPart appends the part to its group, arming a single fixed-delay
// flush on first arrival. The small latency buys atomic multi-part delivery.
func (e *Engine) bufferAlbumPart(tenantID int64, msg repost.InboundMessage) {
	key := albumKey{tenantID: tenantID, groupID: msg.GroupID}

	e.mu.Lock()
	g := e.albums[key]
	if g == nil {
		g = &albumGroup{armedAt: time.Now()}
		g.timer = time.AfterFunc(e.cfg.AlbumWindow, func() { e.flushAlbum(key) })
		e.albums[key] = g
	}
	g.msgs = append(g.msgs, msg)
	e.mu.Unlock()
}

func (e *Engine) flushAlbum(key albumKey) {
	e.mu.Lock()
	g := e.albums[key]
	delete(e.albums, key)
	e.mu.Unlock()
	if g == nil || len(g.msgs) == 0 {
		return
	}
	e.routeAsync(key.tenantID, g.msgs)
}

func (e *Engine) routeAsync(tenantID int64, msgs []repost.InboundMessage) {
	ctx, ok := e.runContext()
	if !ok {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.route(ctx, tenantID, msgs); err != nil {
			e.log.Error("routing failed",
				logx.Int64("tenant", tenantID), logx.Err(err))
		}
	}()
}

// sweepAlbums drops album buffers whose timer should long have fired; it
// backs the janitor and protects against a lost timer callback.
func (e *Engine) sweepAlbums(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	stale := 0

	e.mu.Lock()
	for key, g := range e.albums {
		if g.armedAt.Before(cutoff) {
			g.timer.Stop()
			delete(e.albums, key)
			stale++
		}
	}
	e.mu.Unlock()

	return stale
}
