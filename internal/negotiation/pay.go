package negotiation

import (
	"context"
	"errors"

	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/payment"
	"github.com/xtrntr/meetswap/internal/status"
	"github.com/xtrntr/meetswap/internal/store"
)

// PayResult is returned by PayFee
type PayResult struct {
	Status        status.Overall // paid_partial or paid_complete
	AppliedCredit bool
	CreditID      string
	TxID          string
	Method        string
}

// PayFee records the caller's platform fee. An available, unexpired credit
// that covers the whole fee is consumed instead of charging the gateway.
// The gateway is called inside the transaction: if it fails nothing is
// written, including the credit.
func (e *Engine) PayFee(ctx context.Context, callerID, listingID string) (PayResult, error) {
	var res PayResult
	err := e.run(ctx, "pay_fee", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		n, err := c.loadTime(ctx, listingID)
		if err != nil {
			return err
		}
		if n.AcceptedAt == nil {
			return newError(InvalidState, c.op, "meeting time has not been accepted")
		}
		role := roleOf(callerID, listing, n)
		if role == RoleNone {
			return newError(NotAllowed, c.op, "you are not a party to this negotiation")
		}

		p, err := c.loadPayment(ctx, listingID)
		if err != nil {
			return err
		}
		isNew := p == nil
		if isNew {
			p = &models.Payment{
				ID:        e.newID(),
				ListingID: listingID,
				BuyerID:   n.BuyerID,
				Amount:    models.Fee,
				Currency:  models.FeeCurrency,
				CreatedAt: c.now,
			}
		}
		if p.BuyerID != n.BuyerID {
			return newError(Internal, c.op, "payment belongs to a different buyer")
		}
		if p.PaidBy(callerID, listing.SellerID) {
			return newError(AlreadyPaid, c.op, "you have already paid for this listing")
		}

		receipt, creditID, err := e.settle(ctx, c, p, "fee:"+n.ID+":"+string(role))
		if err != nil {
			return err
		}
		booked, err := c.tx.TxIDBooked(ctx, receipt.TxID)
		if err != nil {
			return err
		}
		if booked {
			return newError(Conflict, c.op, "transaction has already been recorded")
		}

		now := c.now
		txID := receipt.TxID
		if role == RoleBuyer {
			p.BuyerPaidAt, p.BuyerTxID = &now, &txID
		} else {
			p.SellerPaidAt, p.SellerTxID = &now, &txID
		}
		p.Method = receipt.Method
		p.UpdatedAt = now
		if isNew {
			err = c.tx.InsertPayment(ctx, p)
		} else {
			err = c.tx.UpdatePayment(ctx, p)
		}
		if err != nil {
			return err
		}

		res = PayResult{
			Status:        status.PaidPartial,
			AppliedCredit: creditID != "",
			CreditID:      creditID,
			TxID:          txID,
			Method:        receipt.Method,
		}
		evt := notify.Event{
			Type:          notify.PaymentPartial,
			ListingID:     listingID,
			NegotiationID: n.ID,
			ActorName:     c.actorName(ctx),
			RecipientID:   counterparty(callerID, listing, n),
		}
		if p.BothPaid() {
			if err := e.grantAccess(ctx, c, listing, n, p); err != nil {
				return err
			}
			res.Status = status.PaidComplete
			evt.Type = notify.PaymentComplete
		}
		c.emit(evt)
		return nil
	})
	return res, err
}

// settle pays the fee from a credit when one covers it, otherwise through the
// gateway. The idempotency key is stable across retries of the same party's
// payment, so a charge whose commit failed is not captured twice.
func (e *Engine) settle(ctx context.Context, c *command, p *models.Payment, key string) (payment.Receipt, string, error) {
	credit, err := c.tx.OldestAvailableCredit(ctx, c.caller, c.now)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return payment.Receipt{}, "", err
	case credit.Amount.GreaterThanOrEqual(p.Amount):
		if err := c.tx.ApplyCredit(ctx, credit.ID, p.ID, c.now); err != nil {
			return payment.Receipt{}, "", err
		}
		return payment.Receipt{TxID: "credit-" + credit.ID, Method: models.MethodCredit}, credit.ID, nil
	}

	receipt, err := e.gateway.Charge(ctx, payment.ChargeRequest{
		IdempotencyKey: key,
		PayerID:        c.caller,
		ListingID:      p.ListingID,
		Amount:         p.Amount,
		Currency:       p.Currency,
	})
	if err != nil {
		e.logger.Warn("fee charge failed", "listing_id", p.ListingID, "caller_id", c.caller, "error", err)
		return payment.Receipt{}, "", wrapError(GatewayFailed, c.op, "payment provider did not settle the fee", err)
	}
	if receipt.TxID == "" {
		return payment.Receipt{}, "", newError(GatewayFailed, c.op, "payment provider returned no transaction id")
	}
	if receipt.Method == "" {
		receipt.Method = models.MethodPayPal
	}
	return receipt, "", nil
}

// grantAccess applies the both-paid side effects
func (e *Engine) grantAccess(ctx context.Context, c *command, listing *models.Listing, n *models.TimeNegotiation, p *models.Payment) error {
	for _, userID := range []string{n.BuyerID, listing.SellerID} {
		err := c.tx.InsertContactAccess(ctx, &models.ContactAccess{
			ID:          e.newID(),
			UserID:      userID,
			ListingID:   listing.ID,
			PurchasedAt: c.now,
			Status:      models.AccessActive,
			AmountPaid:  p.Amount,
			Currency:    p.Currency,
		})
		if err != nil {
			return err
		}
	}
	if err := c.tx.IncrementTotalExchanges(ctx, n.BuyerID, listing.SellerID); err != nil {
		return err
	}
	rejected, err := c.tx.RejectOtherTimeNegotiations(ctx, listing.ID, n.ID, c.now)
	if err != nil {
		return err
	}
	if rejected > 0 {
		e.logger.Warn("auto-rejected stray time negotiations", "listing_id", listing.ID, "count", rejected)
	}
	return nil
}
