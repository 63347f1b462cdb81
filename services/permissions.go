package services

import (
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/user"
)

// CanEdit reports whether actor may change an existing entry of c through the
// admin surface. Superusers always can; staff only while the challenge is open.
func CanEdit(actor *user.Actor, c *challenge.Challenge) bool {
	if actor == nil {
		return false
	}
	if actor.IsSuperuser {
		return true
	}
	return actor.IsStaff && c.IsActive
}

// canOverrideClosed reports whether actor may write to a closed challenge.
func canOverrideClosed(actor *user.Actor) bool {
	return actor != nil && actor.IsSuperuser
}
