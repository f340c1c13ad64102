package ports

import "context"

// Event topics published by the auth service
const (
	EventUserRegistered    = "user.registered"
	EventUserAuthenticated = "user.authenticated"
	EventUserDeactivated   = "user.deactivated"
	EventIdentityLinked    = "identity.linked"
	EventIdentityUnlinked  = "identity.unlinked"
)

// Event describes something that happened to an account
type Event struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Provider   string `json:"provider,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// EventPublisher publishes events to notify other services
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
