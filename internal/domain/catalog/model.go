// Package catalog holds the domain types for the discovered test catalog.
package catalog

import "time"

// Meta carries the human-facing payload discovered from a test's meta.json.
type Meta struct {
	FriendlyName string   `json:"friendlyName"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Constants is the shared-and-per-environment scalar configuration attached
// to a test. Values are kept as interface{} because the source files carry
// arbitrary JSON scalars (strings, numbers, booleans).
type Constants struct {
	Shared       map[string]interface{}            `json:"shared,omitempty"`
	Environments map[string]map[string]interface{} `json:"environments,omitempty"`
}

// TestDefinition is a catalog entry for one discovered spec file.
type TestDefinition struct {
	ID         string
	TestKey    string
	FolderPath string
	SpecPath   string
	Meta       Meta
	Constants  Constants
	Overrides  *Constants
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasTag reports whether the definition carries the given tag.
func (d TestDefinition) HasTag(tag string) bool {
	for _, t := range d.Meta.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
