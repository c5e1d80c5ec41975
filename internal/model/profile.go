package model

// Profile is a statically configured agent persona
type Profile struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Role            string `json:"role" yaml:"role"`
	Description     string `json:"description" yaml:"description"`
	Personality     string `json:"personality,omitempty" yaml:"personality"`
	MemoryLayer     string `json:"memoryLayer,omitempty" yaml:"memoryLayer"`
	DefaultPriority string `json:"defaultPriority,omitempty" yaml:"defaultPriority"`
	Icon            string `json:"icon,omitempty" yaml:"icon"`
}

// ProfilesFile is the on-disk shape of subagent-profiles.json
type ProfilesFile struct {
	Profiles []Profile `json:"profiles" yaml:"profiles"`
}
