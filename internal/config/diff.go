package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// The log level, the hint catalog and the discover scenario source are
// applied without a restart; everything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CatalogChanged is set when the hint catalog source changed. A changed
	// catalog file content is detected by the [Watcher], not by Diff.
	CatalogChanged bool

	// ScenarioChanged is set when the discover scenario source changed.
	// Running sessions keep the scenario they started with.
	ScenarioChanged bool

	// RestartRequired lists the top-level sections that changed but only
	// take effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Hint.CatalogFile != new.Hint.CatalogFile ||
		old.Hint.DefaultCatalog != new.Hint.DefaultCatalog ||
		!reflect.DeepEqual(old.Hint.Actions, new.Hint.Actions) {
		d.CatalogChanged = true
	}

	if old.Discover.ScenarioFile != new.Discover.ScenarioFile ||
		old.Discover.Builtin != new.Discover.Builtin {
		d.ScenarioChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldHint, newHint := old.Hint, new.Hint
	oldHint.CatalogFile, newHint.CatalogFile = "", ""
	oldHint.Actions, newHint.Actions = nil, nil
	oldHint.DefaultCatalog, newHint.DefaultCatalog = false, false
	oldDiscover, newDiscover := old.Discover, new.Discover
	oldDiscover.ScenarioFile, newDiscover.ScenarioFile = "", ""
	oldDiscover.Builtin, newDiscover.Builtin = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"resident", old.Resident, new.Resident},
		{"hint", oldHint, newHint},
		{"discover", oldDiscover, newDiscover},
		{"archive", old.Archive, new.Archive},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
