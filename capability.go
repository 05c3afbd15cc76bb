package kurobako

import (
	"encoding/json"
	"strings"
)

// Capabilities is a set of optimization features. A solver advertises the
// capabilities it can service; a problem derives the capabilities it requires
// from its domains.
type Capabilities uint32

const (
	// UniformContinuous covers continuous parameters with a uniform prior.
	UniformContinuous Capabilities = 1 << iota

	// UniformDiscrete covers discrete parameters with a uniform prior.
	UniformDiscrete

	// LogUniformContinuous covers continuous parameters with a log-uniform prior.
	LogUniformContinuous

	// LogUniformDiscrete covers discrete parameters with a log-uniform prior.
	LogUniformDiscrete

	// Categorical covers categorical parameters.
	Categorical

	// Conditional covers parameters gated on the value of an earlier parameter.
	Conditional

	// MultiObjective covers problems with more than one objective value.
	MultiObjective
)

// AllCapabilities is the set containing every capability.
const AllCapabilities = UniformContinuous | UniformDiscrete |
	LogUniformContinuous | LogUniformDiscrete |
	Categorical | Conditional | MultiObjective

var capabilityNames = []struct {
	c    Capabilities
	name string
}{
	{UniformContinuous, "UNIFORM_CONTINUOUS"},
	{UniformDiscrete, "UNIFORM_DISCRETE"},
	{LogUniformContinuous, "LOG_UNIFORM_CONTINUOUS"},
	{LogUniformDiscrete, "LOG_UNIFORM_DISCRETE"},
	{Categorical, "CATEGORICAL"},
	{Conditional, "CONDITIONAL"},
	{MultiObjective, "MULTI_OBJECTIVE"},
}

// Contains reports whether every capability in other is present in c.
func (c Capabilities) Contains(other Capabilities) bool {
	return c&other == other
}

// Union returns the set containing the capabilities of both c and other.
func (c Capabilities) Union(other Capabilities) Capabilities {
	return c | other
}

// IsEmpty reports whether the set contains no capabilities.
func (c Capabilities) IsEmpty() bool {
	return c == 0
}

func (c Capabilities) String() string {
	var names []string
	for _, entry := range capabilityNames {
		if c&entry.c != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// MarshalJSON encodes the set as a sorted array of capability tags.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	names := []string{}
	for _, entry := range capabilityNames {
		if c&entry.c != 0 {
			names = append(names, entry.name)
		}
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes an array of capability tags.
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var set Capabilities
	for _, name := range names {
		found := false
		for _, entry := range capabilityNames {
			if entry.name == name {
				set |= entry.c
				found = true
				break
			}
		}
		if !found {
			return NewErrorf(InvalidInput, "unknown capability: %q", name)
		}
	}
	*c = set
	return nil
}
