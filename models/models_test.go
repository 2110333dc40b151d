package models

import (
	"testing"
	"time"
)

func TestRoute_Canonical(t *testing.T) {
	r := Route{Src: "leaf6", Dst: "leaf1"}
	c := r.Canonical()
	if c.Src != "leaf1" || c.Dst != "leaf6" {
		t.Errorf("Unexpected canonical route: %+v", c)
	}

	if PathName(r, "spine2") != "leaf1-spine2-leaf6" {
		t.Errorf("Unexpected path name: %s", PathName(r, "spine2"))
	}
	if PathName(r, "spine2") != PathName(Route{Src: "leaf1", Dst: "leaf6"}, "spine2") {
		t.Error("Both directions must share a path name")
	}
}

func TestForecast_Valid(t *testing.T) {
	now := time.Now()
	f := Forecast{Value: 1000, ValidUntil: now.Add(time.Minute)}
	if !f.Valid(now) {
		t.Error("Expected forecast valid before expiry")
	}
	if f.Valid(now.Add(2 * time.Minute)) {
		t.Error("Expected forecast invalid after expiry")
	}
	if (Forecast{Value: -1, ValidUntil: now.Add(time.Minute)}).Valid(now) {
		t.Error("Negative forecasts are never valid")
	}
}

func TestPathSelectionDocument_Ratios(t *testing.T) {
	doc := &PathSelectionDocument{
		PathSelectionWeights: map[string]RouteDetail{
			"leaf1->leaf6": {PathDetails: map[string]PathDetail{
				"path_0": {SelectionRatio: 0.3},
				"path_1": {SelectionRatio: 0.7},
			}},
		},
	}

	w := doc.Ratios("leaf1->leaf6")
	if w.R0 != 0.3 || w.R1 != 0.7 {
		t.Errorf("Unexpected ratios: %+v", w)
	}

	// Unknown routes default to an even split.
	w = doc.Ratios("leaf2->leaf3")
	if w.R0 != 0.5 || w.R1 != 0.5 {
		t.Errorf("Expected even default, got %+v", w)
	}
}

func TestPowerState_String(t *testing.T) {
	states := map[PowerState]string{
		PowerOff:      "OFF",
		PowerStarting: "STARTING",
		PowerOn:       "ON",
		PowerDraining: "DRAINING",
		PowerStopping: "STOPPING",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("Expected %s, got %s", want, s.String())
		}
	}
}
