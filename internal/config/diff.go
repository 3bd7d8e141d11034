package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart (e.g. "audio", "providers").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LanguageChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs. Log level and recognition language are
// applied live; everything else is reported in RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recognition.Language != new.Recognition.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Recognition.Language
	}

	oldRest, newRest := old.Recognition, new.Recognition
	oldRest.Language, newRest.Language = "", ""
	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldSrv, newSrv},
		{"audio", old.Audio, new.Audio},
		{"recognition", oldRest, newRest},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"providers", old.Providers, new.Providers},
		{"store", old.Store, new.Store},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
