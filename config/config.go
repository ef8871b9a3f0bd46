package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultFileName is looked up in the current directory when no settings
// file is given explicitly.
const DefaultFileName = ".faultsim.json"

// ParseSettingsFile reads and validates a run settings file.
func ParseSettingsFile(path string) (Settings, error) {
	settings := Defaults()
	if len(path) == 0 {
		return settings, errors.New("path to the settings file was empty")
	}

	dat, err := ioutil.ReadFile(path)
	if err != nil {
		return settings, errors.Wrapf(err, "failed to read settings file '%s'", path)
	}
	if err := json.Unmarshal(dat, &settings); err != nil {
		return settings, errors.Wrapf(err, "malformed settings file '%s'", path)
	}
	if len(settings.SimulatorPath) == 0 {
		return settings, errors.Errorf("settings file '%s' is missing field 'simulatorPath'", path)
	}
	if settings.BasePort <= 0 {
		return settings, errors.Errorf("settings file '%s': basePort must be positive", path)
	}
	return settings, nil
}

// Defaults returns the settings used when a field is absent from the file.
func Defaults() Settings {
	return Settings{
		ControlHost:      DefaultControlHost,
		BasePort:         DefaultBasePort,
		LaunchTimeoutSec: DefaultLaunchTimeoutSec,
		WatchdogSec:      DefaultWatchdogSec,
		SpinBudget:       DefaultSpinBudget,
	}
}

// Discover returns the explicitly given settings file path, or the
// default file in the current directory if one exists there.
func Discover(explicit string) string {
	if len(explicit) != 0 {
		return explicit
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(wd, DefaultFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
