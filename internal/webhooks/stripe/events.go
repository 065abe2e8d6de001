package stripewebhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/internal/settlement"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	pkgstripe "github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

const (
	metadataOrderID = "order_id"
	metadataBuyerID = "buyer_id"
)

// checkoutSessionObject is the subset of the checkout session object settlement reads.
type checkoutSessionObject struct {
	ID                   string            `json:"id"`
	ClientReferenceID    string            `json:"client_reference_id"`
	PaymentStatus        string            `json:"payment_status"`
	AmountTotal          *int64            `json:"amount_total"`
	Currency             string            `json:"currency"`
	Metadata             map[string]string `json:"metadata"`
	ShippingDetails      *shippingObject   `json:"shipping_details"`
	CollectedInformation *struct {
		ShippingDetails *shippingObject `json:"shipping_details"`
	} `json:"collected_information"`
}

type shippingObject struct {
	Name    string         `json:"name"`
	Address *addressObject `json:"address"`
}

type addressObject struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type payoutObject struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ArrivalDate    int64  `json:"arrival_date"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

func decodeCheckoutSession(raw json.RawMessage) (settlement.CheckoutSession, error) {
	var obj checkoutSessionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return settlement.CheckoutSession{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}

	orderRef := obj.Metadata[metadataOrderID]
	if orderRef == "" {
		orderRef = obj.ClientReferenceID
	}
	orderID, err := uuid.Parse(strings.TrimSpace(orderRef))
	if err != nil {
		return settlement.CheckoutSession{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout session order_id invalid")
	}
	buyerID, err := uuid.Parse(strings.TrimSpace(obj.Metadata[metadataBuyerID]))
	if err != nil {
		return settlement.CheckoutSession{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout session buyer_id invalid")
	}

	session := settlement.CheckoutSession{
		ID:            obj.ID,
		OrderID:       orderID,
		BuyerID:       buyerID,
		PaymentStatus: obj.PaymentStatus,
		Currency:      obj.Currency,
		Shipping:      obj.shipping(),
	}
	if obj.AmountTotal != nil {
		amount := pkgstripe.FromMinorUnits(*obj.AmountTotal)
		session.AmountTotal = &amount
	}
	return session, nil
}

// shipping prefers collected_information, which newer API versions populate in
// place of the top-level shipping_details.
func (o checkoutSessionObject) shipping() *types.ShippingAddress {
	details := o.ShippingDetails
	if o.CollectedInformation != nil && o.CollectedInformation.ShippingDetails != nil {
		details = o.CollectedInformation.ShippingDetails
	}
	if details == nil || details.Address == nil {
		return nil
	}
	addr := &types.ShippingAddress{
		Name:       details.Name,
		Line1:      details.Address.Line1,
		City:       details.Address.City,
		State:      details.Address.State,
		PostalCode: details.Address.PostalCode,
		Country:    details.Address.Country,
	}
	if line2 := strings.TrimSpace(details.Address.Line2); line2 != "" {
		addr.Line2 = &line2
	}
	return addr
}

func decodePayout(raw json.RawMessage) (payouts.PayoutEvent, error) {
	var obj payoutObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return payouts.PayoutEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payout")
	}
	if obj.ID == "" {
		return payouts.PayoutEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "payout id missing")
	}
	event := payouts.PayoutEvent{
		ExternalPayoutID: obj.ID,
		Status:           obj.Status,
		FailureCode:      obj.FailureCode,
		FailureMessage:   obj.FailureMessage,
	}
	if obj.ArrivalDate > 0 {
		arrival := time.Unix(obj.ArrivalDate, 0).UTC()
		event.ArrivalDate = &arrival
	}
	return event, nil
}

