// ABOUTME: Authoritative status document writer and edge synchronisation
// ABOUTME: Atomic local write on every transition plus heartbeat re-push

package capacity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/metrics"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

// Pusher ships a document to a remote host. Sync failure is non-fatal; the
// local copy is the truth and is re-shipped later.
type Pusher interface {
	Push(ctx context.Context, doc interface{}) error
}

// StatusPublisher owns the on-disk status document and its replication to
// the edge controller.
type StatusPublisher struct {
	mu        sync.Mutex
	path      string
	pusher    Pusher
	journal   *alerts.Journal
	heartbeat time.Duration
	lastPush  time.Time
	lastDoc   models.StatusDocument
}

func NewStatusPublisher(path string, pusher Pusher, journal *alerts.Journal, heartbeat time.Duration) *StatusPublisher {
	return &StatusPublisher{
		path:      path,
		pusher:    pusher,
		journal:   journal,
		heartbeat: heartbeat,
	}
}

// Publish writes the document locally with atomic rename and ships it to
// the edge. Local write failure is returned; push failure only raises a
// warning since the next transition or heartbeat retries.
func (p *StatusPublisher) Publish(ctx context.Context, doc models.StatusDocument) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := store.WriteJSON(p.path, doc); err != nil {
		return err
	}
	p.lastDoc = doc
	p.pushLocked(ctx, doc)
	return nil
}

// Heartbeat re-ships the last document if the heartbeat interval elapsed
// since the previous successful push attempt.
func (p *StatusPublisher) Heartbeat(ctx context.Context, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastDoc == nil || now.Sub(p.lastPush) < p.heartbeat {
		return
	}
	p.pushLocked(ctx, p.lastDoc)
}

func (p *StatusPublisher) pushLocked(ctx context.Context, doc models.StatusDocument) {
	if p.pusher == nil {
		return
	}
	if err := p.pusher.Push(ctx, doc); err != nil {
		slog.Warn("Status sync to edge failed", "error", err)
		p.journal.StatusSyncFailed(err.Error())
		metrics.StatusPushes.WithLabelValues("failure").Inc()
		return
	}
	p.lastPush = time.Now()
	metrics.StatusPushes.WithLabelValues("success").Inc()
	slog.Debug("Status document synced to edge")
}

// Load reads the document back from disk, for the HTTP API.
func (p *StatusPublisher) Load() (models.StatusDocument, error) {
	var doc models.StatusDocument
	if err := store.ReadJSON(p.path, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
