package models

// TriggerType selects how a SkillTrigger is evaluated against user input.
type TriggerType string

const (
	TriggerKeyword TriggerType = "keyword"
	TriggerIntent  TriggerType = "intent"
	TriggerAlways  TriggerType = "always"
)

// SkillTrigger is one matching rule declared in a SKILL.md's front-matter.
type SkillTrigger struct {
	Type       TriggerType `yaml:"type" json:"type"`
	Patterns   []string    `yaml:"patterns" json:"patterns"`
	Confidence *float64    `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// SkillRequires gates a skill on environment preconditions (supplemented
// from a richer skill model).
type SkillRequires struct {
	Bins []string `yaml:"bins,omitempty" json:"bins,omitempty"`
	Env  []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Skill is a loaded, parsed SKILL.md.
type Skill struct {
	ID           string         `json:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description" yaml:"description"`
	Path         string         `json:"path" yaml:"-"`
	Triggers     []SkillTrigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Requires     *SkillRequires `json:"requires,omitempty" yaml:"requires,omitempty"`
	Instructions string         `json:"instructions" yaml:"-"`
	Enabled      bool           `json:"enabled"`
	UseCount     int            `json:"use_count"`
}

// SkillMatch is one ranked result of Registry.Match.
type SkillMatch struct {
	Skill          Skill   `json:"skill"`
	Confidence     float64 `json:"confidence"`
	MatchedTrigger *SkillTrigger `json:"matched_trigger,omitempty"`
}
