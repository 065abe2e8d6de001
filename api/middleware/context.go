package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

type principalKey struct{}

// principal is the authenticated caller as Auth decoded it from the token.
type principal struct {
	userID   string
	role     string
	sellerID string
}

func principalFrom(ctx context.Context) principal {
	if ctx == nil {
		return principal{}
	}
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// attach stores p on ctx and, when logg is set, adds the caller to log fields.
func (p principal) attach(ctx context.Context, logg *logger.Logger) context.Context {
	ctx = withPrincipal(ctx, p)
	if logg == nil {
		return ctx
	}
	fields := map[string]any{"user_id": p.userID, "actor_role": p.role}
	if p.sellerID != "" {
		fields["seller_id"] = p.sellerID
	}
	return logg.WithFields(ctx, fields)
}

func UserIDFromContext(ctx context.Context) string { return principalFrom(ctx).userID }

func RoleFromContext(ctx context.Context) string { return principalFrom(ctx).role }

func SellerIDFromContext(ctx context.Context) string { return principalFrom(ctx).sellerID }

// SellerUUIDFromContext returns the acting seller, if the caller has one.
func SellerUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(SellerIDFromContext(ctx))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithSellerID sets the acting seller, keeping any user and role already present.
func WithSellerID(ctx context.Context, sellerID string) context.Context {
	p := principalFrom(ctx)
	p.sellerID = sellerID
	return withPrincipal(ctx, p)
}
