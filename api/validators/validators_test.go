package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type payoutRequest struct {
	SellerID string `json:"seller_id" validate:"required,uuid"`
}

func TestDecodeJSONBodyValidatesFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"seller_id":"nope"}`))
	var dest payoutRequest
	err := DecodeJSONBody(req, &dest)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be a valid uuid", details["seller_id"])
}

func TestDecodeJSONBodyRejectsUnknownAndTrailingData(t *testing.T) {
	id := uuid.NewString()
	for name, body := range map[string]string{
		"unknown field": `{"seller_id":"` + id + `","amount":"10.00"}`,
		"trailing":      `{"seller_id":"` + id + `"}{"seller_id":"` + id + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			var dest payoutRequest
			require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &dest), pkgerrors.CodeValidation))
		})
	}
}

func TestDecodeJSONBodyRequiresBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var dest payoutRequest
	err := DecodeJSONBody(req, &dest)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Equal(t, "request body is required", pkgerrors.As(err).Message())

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	details, ok := pkgerrors.As(DecodeJSONBody(req, &dest)).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "is required", details["seller_id"])
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	body := `{"seller_id":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest payoutRequest
	err := DecodeJSONBody(req, &dest)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Equal(t, "request body too large", pkgerrors.As(err).Message())
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage(httptest.NewRequest(http.MethodGet, "/?offset=20", nil), 50, 200)
	require.NoError(t, err)
	require.Equal(t, Page{Limit: 50, Offset: 20}, page)

	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=500", nil), 50, 200)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=ten", nil), 50, 200)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("payoutId", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	got, err := ParsePathUUID(withParam(id.String()), "payoutId", "payout id")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParsePathUUID(withParam("not-a-uuid"), "payoutId", "payout id")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParsePathUUID(withParam(""), "payoutId", "payout id")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
