package types

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 1

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// LoadShifting enables peak shedding in the live simulation.
	LoadShifting bool `json:"loadShifting"`
}

// DefaultSettings returns the settings used when nothing has been stored yet.
func DefaultSettings() Settings {
	return Settings{
		LoadShifting: true,
	}
}

// Migrate fills in defaults for fields added after the given version.
func (s Settings) Migrate(version int) Settings {
	if version < 1 {
		s.LoadShifting = true
	}
	return s
}
