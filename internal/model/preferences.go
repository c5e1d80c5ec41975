package model

// Preferences are the dashboard notification settings
type Preferences struct {
	NotificationsEnabled bool `json:"notificationsEnabled"`
	SoundEnabled         bool `json:"soundEnabled"`
	ProgressFrequency    int  `json:"progressFrequency"` // seconds
}

// DefaultPreferences is used for missing or invalid fields
var DefaultPreferences = Preferences{
	NotificationsEnabled: true,
	SoundEnabled:         true,
	ProgressFrequency:    30,
}

// AllowedProgressFrequencies lists the accepted progress polling intervals
var AllowedProgressFrequencies = []int{30, 60, 300}
