// Package opctx carries the engine operation id across collaborator calls,
// so audit entries and outgoing requests can be correlated.
package opctx

import (
	"context"

	"github.com/google/uuid"
)

type key struct{}

// With returns ctx tagged with id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key{}, id)
}

// Start tags ctx with a fresh id.
func Start(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return With(ctx, id), id
}

// ID returns the id carried by ctx, or "".
func ID(ctx context.Context) string {
	id, _ := ctx.Value(key{}).(string)
	return id
}
