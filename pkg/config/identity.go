package config

import (
	"context"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

// StaticIdentity resolves actor ids against a fixed party list from config.
type StaticIdentity struct {
	actors map[string]workflow.Actor
}

// NewStaticIdentity builds an identity provider from the configured parties.
func NewStaticIdentity(parties []PartyConfig) *StaticIdentity {
	actors := make(map[string]workflow.Actor, len(parties))
	for _, p := range parties {
		actors[p.ID] = workflow.Actor{
			ID:   p.ID,
			Role: workflow.Role(p.Role),
		}
	}
	return &StaticIdentity{actors: actors}
}

// Resolve implements workflow.IdentityProvider.
func (s *StaticIdentity) Resolve(_ context.Context, actorID string) (workflow.Actor, error) {
	actor, ok := s.actors[actorID]
	if !ok {
		return workflow.Actor{}, workflow.NewNotFoundError("unknown actor", nil).
			WithCode(workflow.ErrCodeUnknownActor).
			WithDetail("actor_id", actorID)
	}
	return actor, nil
}
