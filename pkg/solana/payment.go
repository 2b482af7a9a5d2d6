package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// PaymentTolerance absorbs network-fee rounding on purchase payments, in
// lamports.
const PaymentTolerance uint64 = 5000

var (
	ErrMissingTransfer     = errors.New("expected transfer instruction missing")
	ErrSourceMismatch      = errors.New("transfer source does not match payer")
	ErrDestinationMismatch = errors.New("transfer destination does not match recipient")
	ErrAmountTooLow        = errors.New("paid amount below required amount")
)

// PaymentExpectation describes the payment a signed transaction must carry.
// Recipients are matched against the final len(Recipients) instructions, in
// order, and each of those must be a native transfer.
type PaymentExpectation struct {
	RawTx      []byte
	Payer      string
	Recipients []string
	MinAmount  uint64
	Tolerance  uint64
}

// VerifiedPayment is the outcome of a successful verification
type VerifiedPayment struct {
	Signature string
	Paid      uint64
}

// PaymentVerifier relays a client-signed payment and checks what it paid.
type PaymentVerifier struct {
	ledger          Ledger
	finalityTimeout time.Duration
}

// NewPaymentVerifier builds a verifier. A positive finalityTimeout caps the
// finality wait independently of the transaction's validity window.
func NewPaymentVerifier(ledger Ledger, finalityTimeout time.Duration) *PaymentVerifier {
	return &PaymentVerifier{
		ledger:          ledger,
		finalityTimeout: finalityTimeout,
	}
}

// Verify broadcasts the transaction, waits for it to land and checks its
// trailing instructions against exp. It fails closed: any error means nothing
// was verified.
func (v *PaymentVerifier) Verify(ctx context.Context, exp PaymentExpectation) (*VerifiedPayment, error) {
	if len(exp.Recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients expected", ErrInvalidTransaction)
	}

	sub, err := v.ledger.Broadcast(ctx, exp.RawTx)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	logger := log.WithFields(log.Fields{
		"signature": sub.Signature,
		"payer":     exp.Payer,
	})

	waitCtx := ctx
	if v.finalityTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, v.finalityTimeout)
		defer cancel()
	}
	if err := v.ledger.AwaitFinality(waitCtx, sub); err != nil {
		logger.WithError(err).Warn("Payment did not reach finality")
		return nil, fmt.Errorf("await finality: %w", err)
	}

	instructions, err := v.ledger.GetInstructions(ctx, sub.Signature)
	if err != nil {
		logger.WithError(err).Warn("Failed to load payment instructions")
		return nil, fmt.Errorf("get instructions: %w", err)
	}

	paid, err := CheckInstructions(instructions, exp)
	if err != nil {
		logger.WithError(err).Warn("Payment rejected")
		return nil, err
	}

	logger.WithFields(log.Fields{
		"paid":     paid,
		"required": exp.MinAmount,
	}).Info("Payment verified")

	return &VerifiedPayment{Signature: sub.Signature, Paid: paid}, nil
}

// CheckInstructions selects the trailing len(exp.Recipients) instructions by
// raw position. Any of them that is not a native transfer fails the check.
func CheckInstructions(instructions []Instruction, exp PaymentExpectation) (uint64, error) {
	n := len(exp.Recipients)
	if len(instructions) < n {
		return 0, fmt.Errorf("%w: want %d instructions, got %d", ErrMissingTransfer, n, len(instructions))
	}

	transfers := make([]Transfer, 0, n)
	for i, ix := range instructions[len(instructions)-n:] {
		if ix.Transfer == nil {
			return 0, fmt.Errorf("%w: position %d is %s", ErrMissingTransfer, i, ix)
		}
		transfers = append(transfers, *ix.Transfer)
	}
	return CheckTransfers(transfers, exp)
}

// CheckTransfers selects the trailing transfers by position and validates
// them against exp. It returns the total paid to all recipients.
func CheckTransfers(transfers []Transfer, exp PaymentExpectation) (uint64, error) {
	n := len(exp.Recipients)
	if len(transfers) < n {
		return 0, fmt.Errorf("%w: want %d, got %d", ErrMissingTransfer, n, len(transfers))
	}

	selected := transfers[len(transfers)-n:]
	var paid uint64
	for i, tr := range selected {
		if tr.Source != exp.Payer {
			return 0, fmt.Errorf("%w: got %s", ErrSourceMismatch, tr.Source)
		}
		if tr.Destination != exp.Recipients[i] {
			return 0, fmt.Errorf("%w: position %d got %s", ErrDestinationMismatch, i, tr.Destination)
		}
		paid += tr.Lamports
	}

	required := uint64(0)
	if exp.MinAmount > exp.Tolerance {
		required = exp.MinAmount - exp.Tolerance
	}
	if paid < required {
		return 0, fmt.Errorf("%w: paid %d, required %d", ErrAmountTooLow, paid, exp.MinAmount)
	}

	return paid, nil
}
