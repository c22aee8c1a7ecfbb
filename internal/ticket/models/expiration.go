package models

import "time"

type PolicyType string

const (
	PolicyTimeout PolicyType = "timeout"
	PolicySliding PolicyType = "sliding"
	PolicyNever   PolicyType = "never"
)

// ExpirationPolicy decides when a ticket stops being valid.
//
// Timeout expires TimeToLive after creation. Sliding expires TimeToIdle after
// the last use, but never later than TimeToLive after creation when that is
// set. Never does not expire on its own.
type ExpirationPolicy struct {
	Type       PolicyType    `json:"type"`
	TimeToLive time.Duration `json:"ttl,omitempty"`
	TimeToIdle time.Duration `json:"tti,omitempty"`
}

func Timeout(ttl time.Duration) ExpirationPolicy {
	return ExpirationPolicy{Type: PolicyTimeout, TimeToLive: ttl}
}

// Sliding renews on each use by idle, capped at hardMax from creation (0 = no cap).
func Sliding(idle, hardMax time.Duration) ExpirationPolicy {
	return ExpirationPolicy{Type: PolicySliding, TimeToIdle: idle, TimeToLive: hardMax}
}

func Never() ExpirationPolicy {
	return ExpirationPolicy{Type: PolicyNever}
}

// ExpiresAt computes the deadline. A zero time means no deadline.
func (p ExpirationPolicy) ExpiresAt(createdAt, lastUsedAt time.Time) time.Time {
	switch p.Type {
	case PolicyTimeout:
		return createdAt.Add(p.TimeToLive)
	case PolicySliding:
		if lastUsedAt.Before(createdAt) {
			lastUsedAt = createdAt
		}
		idle := lastUsedAt.Add(p.TimeToIdle)
		if p.TimeToLive > 0 {
			if hard := createdAt.Add(p.TimeToLive); hard.Before(idle) {
				return hard
			}
		}
		return idle
	default:
		return time.Time{}
	}
}
