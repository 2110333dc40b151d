// ABOUTME: Hypervisor power actuation via govmomi
// ABOUTME: Idempotent VM power on/off/restart against vCenter, by VM name

package power

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// Action is a requested power state change.
type Action string

const (
	On      Action = "on"
	Off     Action = "off"
	Restart Action = "restart"
)

// Credentials holds vCenter connection info.
type Credentials struct {
	Host       string
	Username   string
	Password   string
	Datacenter string
	Insecure   bool
}

// Actuator changes VM power state. The interface exists so the capacity
// controller can be tested without a hypervisor.
type Actuator interface {
	Apply(ctx context.Context, vmName string, action Action) error
}

// VSphereActuator drives VM power state through vCenter.
type VSphereActuator struct {
	creds      Credentials
	client     *govmomi.Client
	finder     *find.Finder
	datacenter *object.Datacenter
}

func NewVSphereActuator(creds Credentials) *VSphereActuator {
	return &VSphereActuator{creds: creds}
}

// Connect establishes the vCenter session.
func (v *VSphereActuator) Connect(ctx context.Context) error {
	host := v.creds.Host
	if !strings.HasPrefix(host, "https://") && !strings.HasPrefix(host, "http://") {
		host = "https://" + host
	}

	u, err := url.Parse(host + "/sdk")
	if err != nil {
		return fmt.Errorf("invalid vCenter URL '%s': %w", v.creds.Host, err)
	}
	u.User = url.UserPassword(v.creds.Username, v.creds.Password)

	client, err := govmomi.NewClient(ctx, u, v.creds.Insecure)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "Cannot complete login") {
			return fmt.Errorf("vCenter authentication failed - verify username and password")
		}
		if strings.Contains(errStr, "certificate") || strings.Contains(errStr, "x509") {
			return fmt.Errorf("SSL certificate error connecting to %s - try setting VSPHERE_INSECURE=true", v.creds.Host)
		}
		return fmt.Errorf("failed to connect to vCenter at %s: %w", v.creds.Host, err)
	}

	v.client = client
	v.finder = find.NewFinder(client.Client, true)

	dc, err := v.finder.Datacenter(ctx, v.creds.Datacenter)
	if err != nil {
		return fmt.Errorf("error accessing datacenter '%s': %w", v.creds.Datacenter, err)
	}
	v.datacenter = dc
	v.finder.SetDatacenter(dc)

	slog.Info("vSphere connected", "host", v.creds.Host, "datacenter", v.creds.Datacenter)
	return nil
}

// Disconnect closes the vCenter session.
func (v *VSphereActuator) Disconnect(ctx context.Context) error {
	if v.client != nil {
		return v.client.Logout(ctx)
	}
	return nil
}

// IsConnected returns true if the session is still valid.
func (v *VSphereActuator) IsConnected() bool {
	return v.client != nil && v.client.Valid()
}

// Apply performs the power action on the named VM. Applying a state the VM
// already holds is a successful no-op.
func (v *VSphereActuator) Apply(ctx context.Context, vmName string, action Action) error {
	vm, err := v.finder.VirtualMachine(ctx, vmName)
	if err != nil {
		return fmt.Errorf("locating VM %s: %w", vmName, err)
	}

	state, err := currentPowerState(ctx, vm)
	if err != nil {
		return fmt.Errorf("reading power state of %s: %w", vmName, err)
	}

	switch action {
	case On:
		if state == types.VirtualMachinePowerStatePoweredOn {
			slog.Debug("VM already powered on", "vm", vmName)
			return nil
		}
		return v.await(ctx, vmName, action, func() (*object.Task, error) { return vm.PowerOn(ctx) })

	case Off:
		if state == types.VirtualMachinePowerStatePoweredOff {
			slog.Debug("VM already powered off", "vm", vmName)
			return nil
		}
		return v.await(ctx, vmName, action, func() (*object.Task, error) { return vm.PowerOff(ctx) })

	case Restart:
		if state == types.VirtualMachinePowerStatePoweredOff {
			return v.await(ctx, vmName, On, func() (*object.Task, error) { return vm.PowerOn(ctx) })
		}
		return v.await(ctx, vmName, action, func() (*object.Task, error) { return vm.Reset(ctx) })
	}

	return fmt.Errorf("unknown power action %q", action)
}

func (v *VSphereActuator) await(ctx context.Context, vmName string, action Action, start func() (*object.Task, error)) error {
	task, err := start()
	if err != nil {
		return fmt.Errorf("starting %s on %s: %w", action, vmName, err)
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s on %s: %w", action, vmName, err)
	}
	slog.Info("Power action completed", "vm", vmName, "action", action)
	return nil
}

func currentPowerState(ctx context.Context, vm *object.VirtualMachine) (types.VirtualMachinePowerState, error) {
	var vmMo mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"runtime"}, &vmMo); err != nil {
		return "", err
	}
	return vmMo.Runtime.PowerState, nil
}
