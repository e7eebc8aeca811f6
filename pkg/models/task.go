package models

import "time"

// ScheduledTask is a cron/one-shot job managed by the Scheduler.
type ScheduledTask struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Cron      string     `json:"cron"`
	Action    string     `json:"action"`
	Enabled   bool       `json:"enabled"`
	OneShot   bool       `json:"one_shot"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}
