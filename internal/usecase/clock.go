package usecase

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"heirloom/internal/domain"
)

type Clock func() time.Time

func nowFrom(clock Clock) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}

// Actor is who performed an operation, carried on the context for the audit trail.
type Actor struct {
	Type domain.AuditActorType
	ID   string
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok && actor.Type != "" {
		return actor
	}
	return Actor{Type: domain.AuditActorSystem}
}

// newToken returns a random URL-safe token and the hash that gets stored.
func newToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, domain.HashString(token), nil
}

func lockSubject(ctx context.Context, locker SubjectLocker, key string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	return locker.Lock(ctx, key)
}

func vaultLockKey(vaultID string) string {
	return "vault:" + vaultID
}

func subjectLockKey(kind domain.SubjectKind, subjectID string) string {
	return "quorum:" + string(kind) + ":" + subjectID
}
