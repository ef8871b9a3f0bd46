// Package sim launches and supervises the simulator processes backing the
// fault injection workers, one process per parallel job.
package sim

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lukjok/faultsim/config"
)

// Instance is one running simulator process and its control port.
type Instance struct {
	Port int

	cmd *exec.Cmd
}

// Launch starts a simulator process whose control endpoint listens on
// port. The {port} placeholder in the configured arguments is substituted
// with the instance's port.
func Launch(settings config.Settings, port int) (*Instance, error) {
	args := make([]string, len(settings.SimulatorArgs))
	for i, a := range settings.SimulatorArgs {
		args[i] = strings.ReplaceAll(a, "{port}", fmt.Sprintf("%d", port))
	}

	cmd := exec.Command(settings.SimulatorPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start simulator '%s'", settings.SimulatorPath)
	}
	return &Instance{Port: port, cmd: cmd}, nil
}

// WaitReady blocks until the instance's control socket accepts
// connections, or the timeout expires.
func (i *Instance) WaitReady(host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("%s:%d", host, i.Port)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("simulator control socket %s did not appear within %s", addr, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Shutdown terminates the simulator process and reaps it.
func (i *Instance) Shutdown() error {
	if i.cmd.Process == nil {
		return nil
	}
	if err := i.cmd.Process.Kill(); err != nil {
		return errors.Wrap(err, "failed to kill the simulator process")
	}
	i.cmd.Wait()
	return nil
}
