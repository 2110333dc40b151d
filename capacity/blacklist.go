// ABOUTME: Persisted blacklist of backends unfit for scheduling
// ABOUTME: Survives restarts; startup contents union with runtime additions

package capacity

import (
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/HuaZheng03/dslb/store"
)

// Blacklist is a durable set of backend ids. A blacklisted backend is never
// selected for replacement duty.
type Blacklist struct {
	mu   sync.Mutex
	path string
	ids  map[string]bool
}

func NewBlacklist(path string) *Blacklist {
	b := &Blacklist{path: path, ids: map[string]bool{}}

	var persisted []string
	if err := store.ReadJSON(path, &persisted); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load blacklist, starting empty", "path", path, "error", err)
		}
		return b
	}
	for _, id := range persisted {
		b.ids[id] = true
	}
	if len(persisted) > 0 {
		slog.Info("Rehydrated blacklist", "backends", persisted)
	}
	return b
}

func (b *Blacklist) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ids[id] {
		return
	}
	b.ids[id] = true
	b.saveLocked()
}

func (b *Blacklist) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ids[id] {
		return
	}
	delete(b.ids, id)
	b.saveLocked()
}

func (b *Blacklist) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ids[id]
}

func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

// Members returns the blacklisted ids in stable order.
func (b *Blacklist) Members() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (b *Blacklist) saveLocked() {
	out := make([]string, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	if err := store.WriteJSON(b.path, out); err != nil {
		slog.Warn("Could not persist blacklist", "error", err)
	}
}
