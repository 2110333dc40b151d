package alerts

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestJournal_AddAndList(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "alerts.json"))

	id := j.Add(Warning, ServerHealth, "Health Check Failed", "probe failed", nil)
	if id == "" {
		t.Fatal("Expected a non-empty alert id")
	}

	list := j.List("", false)
	if len(list) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(list))
	}
	if list[0].Type != Warning || list[0].Category != ServerHealth {
		t.Errorf("Unexpected alert: %+v", list[0])
	}
}

func TestJournal_FilterByType(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "alerts.json"))
	j.Add(Warning, ServerHealth, "w", "", nil)
	j.Add(Critical, ServerPower, "c", "", nil)

	crit := j.List(Critical, false)
	if len(crit) != 1 || crit[0].Title != "c" {
		t.Errorf("Expected only the critical alert, got %+v", crit)
	}
}

func TestJournal_AcknowledgeAndDismiss(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "alerts.json"))
	id := j.Add(Info, MLModel, "t", "", nil)

	if !j.Acknowledge(id) {
		t.Fatal("Expected acknowledge to succeed")
	}
	if len(j.List("", true)) != 0 {
		t.Error("Acknowledged alert still listed as unacknowledged")
	}
	if j.Acknowledge("nope") {
		t.Error("Expected acknowledge of unknown id to fail")
	}

	if !j.Dismiss(id) {
		t.Fatal("Expected dismiss to succeed")
	}
	if len(j.List("", false)) != 0 {
		t.Error("Dismissed alert still present")
	}
}

func TestJournal_SizeCapEvictsOldest(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "alerts.json"))
	for i := 0; i < maxAlerts+20; i++ {
		j.Add(Info, SystemTelemetry, fmt.Sprintf("alert-%d", i), "", nil)
	}

	list := j.List("", false)
	if len(list) != maxAlerts {
		t.Fatalf("Expected cap of %d alerts, got %d", maxAlerts, len(list))
	}
}

func TestJournal_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")

	j := NewJournal(path)
	j.Add(Critical, ServerPower, "persisted", "", map[string]interface{}{"k": "v"})

	reloaded := NewJournal(path)
	list := reloaded.List("", false)
	if len(list) != 1 || list[0].Title != "persisted" {
		t.Fatalf("Expected persisted alert after restart, got %+v", list)
	}
}

func TestJournal_Counts(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "alerts.json"))
	j.Add(Warning, ServerHealth, "a", "", nil)
	j.Add(Warning, ServerHealth, "b", "", nil)
	id := j.Add(Critical, ServerPower, "c", "", nil)
	j.Acknowledge(id)

	counts := j.Counts()
	if counts["total"] != 3 || counts["warning"] != 2 || counts["critical"] != 1 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
	if counts["unacknowledged"] != 2 {
		t.Errorf("Expected 2 unacknowledged, got %d", counts["unacknowledged"])
	}
}
