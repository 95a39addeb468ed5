// Package schedule holds the domain types for recurring run templates.
package schedule

import "time"

// SelectorType discriminates the tagged selector variant.
type SelectorType string

const (
	SelectorFolder   SelectorType = "folder"
	SelectorTags     SelectorType = "tags"
	SelectorExplicit SelectorType = "explicit"
)

// Selector is a tagged variant describing which active tests a schedule
// materializes into a run. Only the fields matching Type are populated.
type Selector struct {
	Type         SelectorType `json:"type"`
	FolderPrefix string       `json:"folderPrefix,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	TestKeys     []string     `json:"testKeys,omitempty"`
}

// Schedule is a recurring run template evaluated by the scheduler tick.
type Schedule struct {
	ID                  string
	Name                string
	Cron                string
	Enabled             bool
	Environment         string
	LastTriggeredAt     *time.Time
	Selector            Selector
	DefaultRunOverrides map[string]interface{}
	CreatedByEmail      string
	UpdatedByEmail      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
