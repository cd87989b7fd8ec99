package orders

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	codeMin = 100000
	codeMax = 999999
)

type VerifierConfig struct {
	TTL         time.Duration
	MaxAttempts int
	HashCost    int
}

func (c VerifierConfig) withDefaults() VerifierConfig {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.HashCost == 0 {
		c.HashCost = bcrypt.DefaultCost
	}
	return c
}

// Verifier issues and checks the one-time code that proves the buyer handed
// over cash in person.
type Verifier struct {
	d        Deps
	cfg      VerifierConfig
	notifier Notifier
	cache    StatusCache
}

func NewVerifier(d Deps, n Notifier, cfg VerifierConfig) *Verifier {
	return &Verifier{d: d.withDefaults("verifier"), cfg: cfg.withDefaults(), notifier: n}
}

// UseStatusCache makes completions refresh c, the same cache the Ledger reads.
func (v *Verifier) UseStatusCache(c StatusCache) { v.cache = c }

type GenerateResult struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	TotalAmount int64     `json:"totalAmount"`
	ExpiresAt   time.Time `json:"otpExpiresAt"`
	// Warning is set when the code could not be handed to the notifier.
	Warning string `json:"warning,omitempty"`
}

// Generate issues a fresh code for the order, replacing any unverified one,
// and hands it to the buyer through the notifier. The code is never returned.
func (v *Verifier) Generate(ctx context.Context, actor Actor, orderID string) (*GenerateResult, error) {
	if actor.Type != PartySeller {
		return nil, ErrForbidden
	}

	code, err := newCode()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), v.cfg.HashCost)
	if err != nil {
		return nil, err
	}

	var (
		o   *Order
		msg *Message
		now = v.d.Now()
	)
	err = withTx(ctx, v.d.Store, func(tx Tx) error {
		var err error
		o, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SellerID != actor.ID {
			return ErrForbidden
		}
		if o.Verification.Verified {
			return stateErr(ErrAlreadyVerified, o.Status)
		}
		if !o.Status.OTPEligible() {
			return stateErr(ErrOTPNotEligible, o.Status)
		}
		exp := now.Add(v.cfg.TTL)
		gen := now
		o.Verification = Verification{
			CodeHash:    string(hash),
			GeneratedAt: &gen,
			ExpiresAt:   &exp,
		}
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if v.d.Rooms != nil && o.ChatRoomID != "" {
			msg, err = v.d.Rooms.AppendSystem(ctx, tx, o.ChatRoomID,
				"A verification code has been sent to the buyer. Ask the buyer to share it with you to complete the order.")
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &GenerateResult{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		TotalAmount: o.TotalAmount,
		ExpiresAt:   *o.Verification.ExpiresAt,
	}
	delivered := true
	if v.notifier != nil {
		err := v.notifier.Send(ctx, o.BuyerID, "Order completion code", map[string]string{
			"order_number": o.OrderNumber,
			"code":         code,
			"expires_at":   res.ExpiresAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			delivered = false
			res.Warning = "verification code could not be delivered to the buyer; generate a new code to retry"
			v.d.Log.Warn("verification code delivery failed",
				"order_id", o.ID,
				"buyer_id", o.BuyerID,
				"error", err.Error(),
			)
		}
	}

	if msg != nil {
		v.d.Rooms.Announce(ctx, msg)
	}
	v.d.Metrics.OTPGenerated()
	v.d.Events.Publish(ctx, EventVerificationRequested, o.ID, VerificationRequestedPayload{
		OrderID:   o.ID,
		ExpiresAt: res.ExpiresAt,
		Delivered: delivered,
	})
	v.d.Log.Info("verification code issued", "order_id", o.ID, "expires_at", res.ExpiresAt)
	return res, nil
}

// Verify checks a submitted code. A match completes the order and applies the
// inventory, sales and payment effects in one transaction; the verified flag
// compare-and-set makes concurrent correct submissions complete it once.
func (v *Verifier) Verify(ctx context.Context, actor Actor, orderID, code string) (*Order, error) {
	if actor.Type != PartySeller {
		return nil, ErrForbidden
	}
	if !wellFormed(code) {
		return nil, invalid("verification code must be 6 digits")
	}

	var (
		out      *Order
		msg      *Message
		from     Status
		rejected error
		now      = v.d.Now()
	)
	err := withTx(ctx, v.d.Store, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SellerID != actor.ID {
			return ErrForbidden
		}
		ver := &o.Verification
		switch {
		case !ver.Issued():
			return ErrNotFound
		case ver.Verified:
			return stateErr(ErrAlreadyVerified, o.Status)
		case ver.ExpiresAt == nil || now.After(*ver.ExpiresAt):
			return ErrExpired
		case ver.Attempts >= v.cfg.MaxAttempts:
			return &CodeError{Err: ErrAttemptsExceeded, AttemptsRemaining: 0}
		case o.Status != StatusReadyForPickup:
			return stateErr(ErrInvalidTransition, o.Status)
		}

		if bcrypt.CompareHashAndPassword([]byte(ver.CodeHash), []byte(code)) != nil {
			ver.Attempts++
			o.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			remaining := v.cfg.MaxAttempts - ver.Attempts
			if remaining <= 0 {
				rejected = &CodeError{Err: ErrAttemptsExceeded, AttemptsRemaining: 0}
			} else {
				rejected = &CodeError{Err: ErrInvalidCode, AttemptsRemaining: remaining}
			}
			return nil
		}

		won, err := tx.ClaimVerification(ctx, o.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return stateErr(ErrAlreadyVerified, StatusCompleted)
		}
		from = o.Status
		ver.Verified = true
		ver.VerifiedAt = &now
		if err := applyTransition(o, StatusCompleted, "Verification code confirmed - cash payment received in person", now); err != nil {
			return err
		}
		o.PaymentStatus = PaymentCashCompleted
		o.PaymentConfirmedBy = &PaymentConfirmation{PartyType: PartySeller, PartyID: actor.ID, ConfirmedAt: now}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := v.settle(ctx, tx, o); err != nil {
			return err
		}
		if v.d.Rooms != nil && o.ChatRoomID != "" {
			msg, err = v.d.Rooms.AppendSystem(ctx, tx, o.ChatRoomID,
				"Order completed successfully! Cash payment received and the order is marked as complete.")
			if err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		v.d.Metrics.OTPVerification(verifyResult(err))
		return nil, err
	}
	if rejected != nil {
		v.d.Metrics.OTPVerification(verifyResult(rejected))
		v.d.Log.Warn("verification code rejected", "order_id", orderID, "error", rejected.Error())
		return nil, rejected
	}

	rememberStatus(ctx, v.d, v.cache, out)
	if msg != nil {
		v.d.Rooms.Announce(ctx, msg)
	}
	v.d.Metrics.OTPVerification("completed")
	v.d.Metrics.Transition(string(StatusCompleted))
	v.d.Events.Publish(ctx, EventOrderCompleted, out.ID, OrderStatusChangedPayload{
		OrderID:   out.ID,
		BuyerID:   out.BuyerID,
		SellerID:  out.SellerID,
		From:      from,
		To:        out.Status,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		At:        now,
	})
	v.d.Log.Info("order completed", "order_id", out.ID, "seller_id", out.SellerID)
	return out, nil
}

// settle consumes the stock reservation (or decrements stock directly for
// orders placed without one) and bumps the product and seller counters.
func (v *Verifier) settle(ctx context.Context, tx Tx, o *Order) error {
	_, ok, err := tx.MoveReservation(ctx, o.ID, ReservationHeld, ReservationConsumed)
	if err != nil {
		return err
	}
	if !ok {
		if err := tx.AdjustStock(ctx, o.ProductID, -o.Quantity); err != nil {
			return err
		}
	}
	if err := tx.AddProductSales(ctx, o.ProductID, o.Quantity); err != nil {
		return err
	}
	return tx.AddSellerStats(ctx, o.SellerID, 1, 1, o.TotalAmount)
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return big.NewInt(0).Add(n, big.NewInt(codeMin)).String(), nil
}

func wellFormed(code string) bool {
	if len(code) != 6 || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "invalid"
	case errors.Is(err, ErrAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}
