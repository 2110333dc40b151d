package pathselect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

func writeDoc(t *testing.T, path string, r0, r1 float64) {
	t.Helper()
	doc := models.PathSelectionDocument{
		Metadata: models.WeightMetadata{LoadBalancingMode: "prediction"},
		PathSelectionWeights: map[string]models.RouteDetail{
			"leaf1->leaf6": {
				PathDetails: map[string]models.PathDetail{
					"path_0": {ViaSpine: "spine1", SelectionRatio: r0},
					"path_1": {ViaSpine: "spine2", SelectionRatio: r1},
				},
			},
		},
	}
	if err := store.WriteJSON(path, doc); err != nil {
		t.Fatalf("Could not write document: %v", err)
	}
}

func TestWatcher_LoadsAndAppliesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.json")
	writeDoc(t, path, 0.2, 0.8)

	wrr := NewSmoothWRR()
	w := NewWatcher(path, wrr)
	if err := w.CheckOnce(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	counts := [2]int{}
	for i := 0; i < 100; i++ {
		counts[wrr.Select("leaf1->leaf6")]++
	}
	if counts[0] != 20 || counts[1] != 80 {
		t.Errorf("Expected 20/80, got %d/%d", counts[0], counts[1])
	}
}

func TestWatcher_UnchangedFileIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.json")
	writeDoc(t, path, 0.5, 0.5)

	wrr := NewSmoothWRR()
	w := NewWatcher(path, wrr)
	if err := w.CheckOnce(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	wrr.Select("leaf1->leaf6")
	acc := wrr.Accumulators("leaf1->leaf6")

	// mtime unchanged: accumulators keep their state.
	if err := w.CheckOnce(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if wrr.Accumulators("leaf1->leaf6") != acc {
		t.Error("Unchanged file must not reset accumulators")
	}
}

func TestWatcher_NewDistributionResetsAccumulators(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.json")
	writeDoc(t, path, 0.5, 0.5)

	wrr := NewSmoothWRR()
	w := NewWatcher(path, wrr)
	if err := w.CheckOnce(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	wrr.Select("leaf1->leaf6")

	// Rewrite with different ratios and a newer mtime.
	writeDoc(t, path, 0.9, 0.1)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Could not bump mtime: %v", err)
	}

	if err := w.CheckOnce(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if wrr.Accumulators("leaf1->leaf6") != [2]int{0, 0} {
		t.Error("New distribution must reset accumulators")
	}

	counts := [2]int{}
	for i := 0; i < 100; i++ {
		counts[wrr.Select("leaf1->leaf6")]++
	}
	if counts[0] != 90 || counts[1] != 10 {
		t.Errorf("Expected 90/10 after reload, got %d/%d", counts[0], counts[1])
	}
}
