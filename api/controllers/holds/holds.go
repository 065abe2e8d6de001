package holds

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/api/middleware"
	"github.com/angelmondragon/packfinderz-settlement/api/responses"
	internalholds "github.com/angelmondragon/packfinderz-settlement/internal/holds"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

type Service interface {
	Views(ctx context.Context, sellerID uuid.UUID) ([]internalholds.View, error)
	Balance(ctx context.Context, sellerID uuid.UUID) (*internalholds.Balance, error)
}

// List returns every ledger entry of the seller with its hold countdown.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, ok := resolveSeller(ctx, svc, logg, w)
		if !ok {
			return
		}
		views, err := svc.Views(ctx, sellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if views == nil {
			views = []internalholds.View{}
		}
		responses.WriteSuccess(w, map[string]any{"holds": views})
	}
}

// Balance returns held, eligible, in-payout and released totals for the seller.
func Balance(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, ok := resolveSeller(ctx, svc, logg, w)
		if !ok {
			return
		}
		balance, err := svc.Balance(ctx, sellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

func resolveSeller(ctx context.Context, svc Service, logg *logger.Logger, w http.ResponseWriter) (uuid.UUID, bool) {
	if svc == nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hold service unavailable"))
		return uuid.Nil, false
	}
	sellerID, ok := middleware.SellerUUIDFromContext(ctx)
	if !ok {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing"))
		return uuid.Nil, false
	}
	return sellerID, true
}
