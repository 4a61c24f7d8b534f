package models

import "time"

// Contact identifies an outreach target. Any field may be empty.
type Contact struct {
	Email   string `json:"email,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Company string `json:"company,omitempty"`
}

// SuppressionEntry blocks all outreach to a normalized contact key
type SuppressionEntry struct {
	Key       string     `json:"key"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the entry still suppresses at the given time
func (e SuppressionEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// LeadDecision is the outreach verdict for one lead record
type LeadDecision struct {
	Record      Record `json:"record"`
	Contactable bool   `json:"contactable"`
	Reason      string `json:"reason,omitempty"`
}
