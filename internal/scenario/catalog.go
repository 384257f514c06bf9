package scenario

import "maps"

// Action is one entry of the hint-flow investment catalog.
type Action struct {
	Description string `json:"description" yaml:"description"`
	Impact      string `json:"impact" yaml:"impact"`
	Risks       string `json:"risks" yaml:"risks"`
}

// Actions maps action names to their catalog entries.
type Actions map[string]Action

// Clone returns a copy of a.
func (a Actions) Clone() Actions {
	return maps.Clone(a)
}
