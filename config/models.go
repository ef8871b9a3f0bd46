package config

// Settings describes the environment a fault injection run executes in:
// how to launch the simulator and how patient the workers should be.
type Settings struct {
	// SimulatorPath is the simulator binary to launch, one process per job.
	SimulatorPath string `json:"simulatorPath"`
	// SimulatorArgs are passed to the simulator; the {port} placeholder is
	// replaced with the instance's control port.
	SimulatorArgs []string `json:"simulatorArgs"`
	// ControlHost is where the control endpoints listen.
	ControlHost string `json:"controlHost"`
	// BasePort is the control port of the first instance; instance i
	// listens on BasePort+i.
	BasePort int `json:"basePort"`
	// LaunchTimeoutSec bounds the wait for a control port to appear.
	LaunchTimeoutSec int `json:"launchTimeoutSec"`
	// WatchdogSec bounds a single run attempt while waiting for a
	// classification.
	WatchdogSec int `json:"watchdogSec"`
	// SpinBudget is the number of extra run attempts granted when a
	// fault's effect can not be decided yet.
	SpinBudget int `json:"spinBudget"`
}

const (
	DefaultControlHost      = "localhost"
	DefaultBasePort         = 7100
	DefaultLaunchTimeoutSec = 30
	DefaultWatchdogSec      = 5
	DefaultSpinBudget       = 3
)
