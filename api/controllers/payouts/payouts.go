package payouts

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/api/middleware"
	"github.com/angelmondragon/packfinderz-settlement/api/responses"
	"github.com/angelmondragon/packfinderz-settlement/api/validators"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service is the slice of the payout batcher the HTTP layer drives.
type Service interface {
	CreatePayout(ctx context.Context, sellerID uuid.UUID) (*models.Payout, error)
	List(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Payout, error)
	Get(ctx context.Context, sellerID, payoutID uuid.UUID) (*models.Payout, error)
}

// Create batches every eligible ledger entry of the authenticated seller into one payout.
func Create(svc Service, enabled bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		if !enabled {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller payouts are disabled"))
			return
		}
		sellerID, ok := middleware.SellerUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing"))
			return
		}
		createFor(ctx, svc, sellerID, logg, w)
	}
}

type adminPayoutRequest struct {
	SellerID string `json:"seller_id" validate:"required,uuid"`
}

// AdminCreate lets an operator trigger a payout for any seller.
func AdminCreate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		var req adminPayoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sellerID, err := uuid.Parse(req.SellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller id"))
			return
		}
		createFor(ctx, svc, sellerID, logg, w)
	}
}

func createFor(ctx context.Context, svc Service, sellerID uuid.UUID, logg *logger.Logger, w http.ResponseWriter) {
	payout, err := svc.CreatePayout(ctx, sellerID)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, toPayoutDTO(payout))
}

// List returns the authenticated seller's payouts, newest first.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		sellerID, ok := middleware.SellerUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing"))
			return
		}
		page, err := validators.ParsePage(r, defaultPageSize, maxPageSize)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := svc.List(ctx, sellerID, page.Limit, page.Offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := payoutListDTO{Payouts: make([]payoutDTO, 0, len(rows)), Limit: page.Limit, Offset: page.Offset}
		for i := range rows {
			out.Payouts = append(out.Payouts, toPayoutDTO(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Detail returns one payout with its items after checking the seller owns it.
func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		sellerID, ok := middleware.SellerUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing"))
			return
		}
		payoutID, err := validators.ParsePathUUID(r, "payoutId", "payout id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payout, err := svc.Get(ctx, sellerID, payoutID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPayoutDTO(payout))
	}
}
