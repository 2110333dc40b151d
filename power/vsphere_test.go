package power

import (
	"context"
	"testing"
)

func TestNoopActuator_AcceptsAllActions(t *testing.T) {
	var a Actuator = NoopActuator{}
	for _, action := range []Action{On, Off, Restart} {
		if err := a.Apply(context.Background(), "vm-small", action); err != nil {
			t.Errorf("Expected no-op %s to succeed, got %v", action, err)
		}
	}
}

func TestVSphereActuator_NotConnected(t *testing.T) {
	v := NewVSphereActuator(Credentials{Host: "vcenter.example.com"})
	if v.IsConnected() {
		t.Error("Expected fresh actuator to be disconnected")
	}
	if err := v.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect without a session must be a no-op, got %v", err)
	}
}
