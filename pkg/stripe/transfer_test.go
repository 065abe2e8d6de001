package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

type recordedCall struct {
	path           string
	idempotencyKey string
	stripeAccount  string
	form           map[string]string
}

type fakeStripeAPI struct {
	mu       sync.Mutex
	calls    []recordedCall
	payoutFn func(w http.ResponseWriter)
}

func (f *fakeStripeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call := recordedCall{
		path:           r.URL.Path,
		idempotencyKey: r.Header.Get("Idempotency-Key"),
		stripeAccount:  r.Header.Get("Stripe-Account"),
		form:           map[string]string{},
	}
	for k := range r.PostForm {
		call.form[k] = r.PostForm.Get(k)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/transfers":
		_, _ = w.Write([]byte(`{"id":"tr_fund","object":"transfer","amount":27540,"currency":"usd"}`))
	case "/v1/payouts":
		if f.payoutFn != nil {
			f.payoutFn(w)
			return
		}
		_, _ = w.Write([]byte(`{"id":"po_seller","object":"payout","amount":27540,"currency":"usd","status":"pending","arrival_date":1767225600}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &Client{
		api:         stripe.NewClient("sk_test_123", stripe.WithBackends(backends)),
		environment: envTest,
		currency:    "usd",
	}
}

func TestCreateTransferFundsConnectedAccountBeforePayout(t *testing.T) {
	api := &fakeStripeAPI{}
	client := newTestClient(t, api)
	sellerID := uuid.New()

	transfer, err := client.CreateTransfer(context.Background(), TransferRequest{
		SellerID:           sellerID,
		DestinationAccount: "acct_seller",
		Amount:             decimal.RequireFromString("275.40"),
		IdempotencyKey:     "payout-key",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if transfer.ID != "po_seller" || transfer.FundingTransferID != "tr_fund" {
		t.Fatalf("unexpected ids %+v", transfer)
	}
	if !transfer.Amount.Equal(decimal.RequireFromString("275.40")) || transfer.ArrivalDate == nil {
		t.Fatalf("unexpected transfer %+v", transfer)
	}

	if len(api.calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(api.calls))
	}
	funding, payout := api.calls[0], api.calls[1]
	if funding.path != "/v1/transfers" || payout.path != "/v1/payouts" {
		t.Fatalf("unexpected call order %s then %s", funding.path, payout.path)
	}
	if funding.form["destination"] != "acct_seller" || funding.form["amount"] != "27540" || funding.stripeAccount != "" {
		t.Fatalf("funding transfer not sent from the platform to the seller: %+v", funding)
	}
	if funding.form["transfer_group"] != "payout-key" || funding.idempotencyKey != "payout-key:transfer" {
		t.Fatalf("unexpected funding keys %+v", funding)
	}
	if payout.stripeAccount != "acct_seller" || payout.idempotencyKey != "payout-key:payout" {
		t.Fatalf("payout not issued on the connected account: %+v", payout)
	}
	if payout.form["metadata[funding_transfer_id]"] != "tr_fund" || payout.form["metadata[seller_id]"] != sellerID.String() {
		t.Fatalf("unexpected payout metadata %+v", payout.form)
	}
}

func TestCreateTransferTranslatesPayoutDecline(t *testing.T) {
	api := &fakeStripeAPI{payoutFn: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"balance_insufficient","message":"insufficient funds"}}`))
	}}
	client := newTestClient(t, api)

	_, err := client.CreateTransfer(context.Background(), TransferRequest{
		SellerID:           uuid.New(),
		DestinationAccount: "acct_seller",
		Amount:             decimal.NewFromInt(10),
		IdempotencyKey:     "payout-key",
	})
	provider, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("expected provider error, got %T %v", err, err)
	}
	if provider.Code != string(stripe.ErrorCodeBalanceInsufficient) || provider.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("unexpected provider error %+v", provider)
	}
}
