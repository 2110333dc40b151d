// ABOUTME: Single-destination DNAT management for the public endpoint
// ABOUTME: Replaces the PREROUTING rule in place; unchanged targets are no-ops

package nat

import (
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Runner executes a command and returns combined output. Tests substitute
// a fake; production uses ExecRunner.
type Runner interface {
	Run(name string, args ...string) (string, error)
}

// ExecRunner shells out via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return string(out), err
}

// Controller manages the single DNAT rule forwarding the public endpoint to
// the currently selected backend.
type Controller struct {
	publicIP        string
	publicInterface string
	port            int
	runner          Runner

	currentTarget string
	installs      int
}

func NewController(publicIP, publicInterface string, port int, runner Runner) *Controller {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Controller{
		publicIP:        publicIP,
		publicInterface: publicInterface,
		port:            port,
		runner:          runner,
	}
}

// EnableIPForwarding turns on kernel forwarding so the box can rewrite and
// route traffic.
func (c *Controller) EnableIPForwarding() error {
	if _, err := c.runner.Run("sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return fmt.Errorf("enabling ip_forward: %w", err)
	}
	return nil
}

// CurrentTarget returns the last successfully committed backend address.
func (c *Controller) CurrentTarget() string { return c.currentTarget }

// Installs returns the number of dataplane rule installations performed.
// Unchanged-target commits do not increment it.
func (c *Controller) Installs() int { return c.installs }

// Commit points the DNAT rule at target. Committing the current target is a
// no-op. On failure the previous rule is left intact and the previous
// target remains current.
func (c *Controller) Commit(target string) error {
	if target == c.currentTarget {
		slog.Debug("NAT target unchanged", "target", target)
		return nil
	}

	spec := []string{
		"-i", c.publicInterface,
		"-p", "tcp",
		"--dport", strconv.Itoa(c.port),
		"-d", c.publicIP,
		"-j", "DNAT",
		"--to-destination", target,
	}

	if err := c.ensureMasquerade(); err != nil {
		return err
	}

	ruleNum, err := c.findPreroutingRule()
	if err != nil {
		return fmt.Errorf("locating existing DNAT rule: %w", err)
	}

	var args []string
	if ruleNum > 0 {
		args = append([]string{"-t", "nat", "-R", "PREROUTING", strconv.Itoa(ruleNum)}, spec...)
	} else {
		args = append([]string{"-t", "nat", "-A", "PREROUTING"}, spec...)
	}

	if out, err := c.runner.Run("iptables", args...); err != nil {
		return fmt.Errorf("installing DNAT rule: %w (%s)", err, strings.TrimSpace(out))
	}

	slog.Info("NAT target committed", "previous", c.currentTarget, "target", target)
	c.currentTarget = target
	c.installs++
	return nil
}

// findPreroutingRule returns the line number of our DNAT rule, or 0.
func (c *Controller) findPreroutingRule() (int, error) {
	out, err := c.runner.Run("iptables", "-t", "nat", "-L", "PREROUTING", "-n", "--line-numbers")
	if err != nil {
		return 0, err
	}

	re := regexp.MustCompile(`^\s*(\d+)\s+.*` + regexp.QuoteMeta(c.publicIP) + `.*dpt:` + strconv.Itoa(c.port))
	for _, line := range strings.Split(out, "\n") {
		if m := re.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n, nil
		}
	}
	return 0, nil
}

// ensureMasquerade appends the POSTROUTING masquerade rule if missing; it
// handles return traffic and only ever needs to exist once.
func (c *Controller) ensureMasquerade() error {
	spec := []string{"-o", c.publicInterface, "-j", "MASQUERADE"}

	if _, err := c.runner.Run("iptables", append([]string{"-t", "nat", "-C", "POSTROUTING"}, spec...)...); err == nil {
		return nil
	}

	if out, err := c.runner.Run("iptables", append([]string{"-t", "nat", "-A", "POSTROUTING"}, spec...)...); err != nil {
		return fmt.Errorf("adding MASQUERADE rule: %w (%s)", err, strings.TrimSpace(out))
	}
	return nil
}
