package models

import (
	"github.com/golang-jwt/jwt/v5"

	"keyhaven/internal/domain/models/vault"
)

// Claims is the JWT claim set accepted by the API. The subject is the actor
// ID; actor_type defaults to a user when absent.
type Claims struct {
	jwt.RegisteredClaims
	ActorType vault.ActorType `json:"actor_type,omitempty"`
	OrgID     string          `json:"org_id,omitempty"`
	Email     string          `json:"email,omitempty"`
}

// Actor returns the caller the token identifies
func (c *Claims) Actor() vault.Actor {
	actorType := c.ActorType
	if actorType == "" {
		actorType = vault.ActorTypeUser
	}
	return vault.Actor{
		Type:  actorType,
		ID:    c.Subject,
		OrgID: c.OrgID,
	}
}
