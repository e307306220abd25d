// Package activitymap turns provider activity events into a flat record for
// audit logs and downstream consumers.
package activitymap

import (
	"context"
	"maps"
	"strings"
	"time"

	idp "github.com/goliatone/go-idp"
)

const (
	// MetadataKeyClientID stores the OAuth client the event relates to.
	MetadataKeyClientID = "client_id"
	// MetadataKeyGrantType stores the grant used for token events.
	MetadataKeyGrantType = "grant_type"
	// MetadataKeyOutcome stores the event outcome (issued, lockout, an OAuth error code...).
	MetadataKeyOutcome = "outcome"
	// MetadataKeyActorID is read from the event metadata to find who acted.
	MetadataKeyActorID = "actor_id"
)

const (
	defaultChannel = "idp"
	defaultActorID = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an idp.ActivityEvent into the normalized shape. The
// object is the user when there is one and the client otherwise.
func Normalize(event idp.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	userID := strings.TrimSpace(event.UserID)
	clientID := strings.TrimSpace(event.ClientID)

	actorID := firstNonEmpty(
		metadataString(event.Metadata, MetadataKeyActorID),
		userID,
		clientID,
		options.actorFallback,
	)

	objectType, objectID := "user", userID
	if userID == "" && clientID != "" {
		objectType, objectID = "client", clientID
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor id used when the event names nobody.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the time source for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// LogSink writes every event to logger at info level.
func LogSink(logger idp.Logger, opts ...Option) idp.ActivitySink {
	return idp.ActivitySinkFunc(func(ctx context.Context, event idp.ActivityEvent) error {
		n := Normalize(event, opts...)
		logger.Info("activity",
			"verb", n.Verb,
			"actor_id", n.ActorID,
			"object_type", n.ObjectType,
			"object_id", n.ObjectID,
			"channel", n.Channel,
			"metadata", n.Metadata,
			"occurred_at", n.OccurredAt,
		)
		return nil
	})
}

func normalizeMetadata(event idp.ActivityEvent) map[string]any {
	metadata := maps.Clone(event.Metadata)
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}

	set(MetadataKeyClientID, event.ClientID)
	set(MetadataKeyGrantType, event.GrantType)
	set(MetadataKeyOutcome, event.Outcome)

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func metadataString(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
