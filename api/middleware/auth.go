package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/packfinderz-settlement/api/responses"
	pkgAuth "github.com/angelmondragon/packfinderz-settlement/pkg/auth"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const bearerScheme = "bearer"

// Auth verifies the bearer token and stores the caller on the request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			caller := principal{userID: claims.UserID.String(), role: string(claims.Role)}
			if sellerID, ok := claims.ActingSellerID(); ok {
				caller.sellerID = sellerID.String()
			}
			next.ServeHTTP(w, r.WithContext(caller.attach(r.Context(), logg)))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case, or a bare token.
func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, bearerScheme) {
		return "", false
	}
	scheme, rest, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, bearerScheme) {
		header = strings.TrimSpace(rest)
	}
	return header, header != ""
}

// RequireSeller rejects tokens that do not act for a seller.
func RequireSeller(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SellerUUIDFromContext(r.Context()); !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
