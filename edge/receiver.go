// ABOUTME: Document receiver endpoint for central-controller pushes
// ABOUTME: Validates JSON payloads and lands them with atomic rename

package edge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/HuaZheng03/dslb/store"
)

// DocumentReceiver accepts PUT payloads and writes them to a fixed local
// path. The central controller pushes the status replica (and, on the box
// hosting the SDN controller, the weight document) through this endpoint.
type DocumentReceiver struct {
	path string
	name string
}

func NewDocumentReceiver(path, name string) *DocumentReceiver {
	return &DocumentReceiver{path: path, name: name}
}

func (d *DocumentReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		slog.Warn("Rejected malformed document", "document", d.name, "error", err)
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := store.WriteJSON(d.path, doc); err != nil {
		slog.Error("Could not land document", "document", d.name, "error", err)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}

	slog.Debug("Document received", "document", d.name, "bytes", len(body))
	w.WriteHeader(http.StatusNoContent)
}
