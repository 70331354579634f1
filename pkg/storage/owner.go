package storage

import "context"

type ownerKey struct{}

// SetOwner restricts store reads made with ctx to records of owner.
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// GetOwner extracts the owner from the context. Returns an empty string
// when reads are unrestricted.
func GetOwner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
