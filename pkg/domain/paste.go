package domain

import (
	"time"
)

// PasteTTL is the fixed lifetime of every paste.
const PasteTTL = 72 * time.Hour

type Paste struct {
	ID        string    `json:"id" bson:"id"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
}

// Expired reports whether the paste is no longer visible at now.
func (p *Paste) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Remaining is the time left before expiry, never negative.
func (p *Paste) Remaining(now time.Time) time.Duration {
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
