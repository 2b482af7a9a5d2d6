package business

import (
	"context"
	"errors"
	"math/bits"
	"time"

	log "github.com/sirupsen/logrus"

	"launchpad/internal/admission"
	"launchpad/internal/metrics"
	"launchpad/internal/models"
	"launchpad/pkg/solana"
)

// PurchaseRequest is one buyer's attempt to mint units of a launch. SignedTx
// is the serialized, buyer-signed payment transaction.
type PurchaseRequest struct {
	UserID        string
	WalletAddress string
	LaunchID      string
	Amount        uint64
	SignedTx      []byte
}

// MintSettledEvent is published after a purchase is recorded
type MintSettledEvent struct {
	MintID        string    `json:"mint_id"`
	LaunchID      string    `json:"launch_id"`
	UserID        string    `json:"user_id"`
	Amount        uint64    `json:"amount"`
	TotalPaid     uint64    `json:"total_paid"`
	TxidIn        string    `json:"txid_in"`
	TxidOut       string    `json:"txid_out"`
	CurrentSupply uint64    `json:"current_supply"`
	Status        string    `json:"status"`
	SettledAt     time.Time `json:"settled_at"`
}

// SettlementFailureEvent carries everything needed to reconcile a purchase
// that was paid and issued on-chain but not recorded.
type SettlementFailureEvent struct {
	LaunchID   string    `json:"launch_id"`
	UserID     string    `json:"user_id"`
	Amount     uint64    `json:"amount"`
	TotalPaid  uint64    `json:"total_paid"`
	TxidIn     string    `json:"txid_in"`
	TxidOut    string    `json:"txid_out"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Purchase admits req through the queue and returns the launch as settled.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (launch *models.Launch, err error) {
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(KindOf(err))
		}
		metrics.PurchaseOutcomes.WithLabelValues(kind).Inc()
	}()

	if err := checkPurchaseRequest(req); err != nil {
		return nil, err
	}

	launch, err = admission.Do(ctx, s.queue, func(ctx context.Context) (*models.Launch, error) {
		return s.settlePurchase(ctx, req)
	})
	if errors.Is(err, admission.ErrStopped) {
		return nil, StateError("Purchases are not being accepted.")
	}
	return launch, err
}

func checkPurchaseRequest(req PurchaseRequest) error {
	if req.UserID == "" || req.WalletAddress == "" {
		return AuthorizationError("Unauthorized.")
	}
	if req.LaunchID == "" {
		return ValidationError("Launch ID is required")
	}
	if req.Amount == 0 {
		return ValidationError("Amount must be greater than 0")
	}
	if len(req.SignedTx) == 0 {
		return ValidationError("Signature is required")
	}
	return nil
}

// settlePurchase is the critical section. It runs with no other task active.
func (s *Service) settlePurchase(ctx context.Context, req PurchaseRequest) (*models.Launch, error) {
	logger := log.WithFields(log.Fields{
		"launch_id": req.LaunchID,
		"user_id":   req.UserID,
		"wallet":    req.WalletAddress,
		"amount":    req.Amount,
	})

	launch, err := s.store.GetLaunch(ctx, req.LaunchID)
	if errors.Is(err, ErrNotFound) {
		return nil, ValidationError("Launch not found.")
	}
	if err != nil {
		return nil, UnavailableError("Failed to load launch.", err)
	}

	if err := CheckPurchase(s.now(), launch, req.Amount); err != nil {
		return nil, err
	}

	hi, total := bits.Mul64(req.Amount, launch.Price)
	if hi != 0 {
		return nil, ValidationError("Mint amount is too large.")
	}

	txidIn, err := solana.PayloadSignature(req.SignedTx)
	if err != nil {
		return nil, ValidationError("Invalid signature.")
	}
	used, err := s.store.MintExists(ctx, txidIn)
	if err != nil {
		return nil, UnavailableError("Failed to check payment.", err)
	}
	if used {
		return nil, PaymentVerificationError("Payment has already been used.", nil)
	}

	started := time.Now()
	payment, err := s.verifier.Verify(ctx, solana.PaymentExpectation{
		RawTx:      req.SignedTx,
		Payer:      req.WalletAddress,
		Recipients: []string{launch.OwnerAddress, s.feeWallet},
		MinAmount:  total,
		Tolerance:  solana.PaymentTolerance,
	})
	if err != nil {
		metrics.PaymentVerifyLatency.WithLabelValues("rejected").Observe(time.Since(started).Seconds())
		return nil, PaymentVerificationError("Payment verification failed.", err)
	}
	metrics.PaymentVerifyLatency.WithLabelValues("verified").Observe(time.Since(started).Seconds())
	logger = logger.WithField("txid_in", payment.Signature)

	// Issuance and the record must not inherit the task deadline, or a
	// purchase can be issued on-chain and never recorded.
	record := &models.Mint{
		Amount:    req.Amount,
		TotalPaid: total,
		TxidIn:    payment.Signature,
		UserID:    req.UserID,
		LaunchID:  launch.ID,
	}

	issueCtx, cancelIssue := afterPayment(ctx, s.issueTimeout)
	txidOut, err := s.issuer.Mint(issueCtx, req.Amount, req.WalletAddress, launch.MintAddress, launch.Decimals)
	cancelIssue()
	if err != nil {
		if txidOut != "" {
			// sent but unconfirmed, the tokens may have been issued
			record.TxidOut = txidOut
			s.reportSettlementFailure(record, err)
			return nil, IssuanceError("Token issuance could not be confirmed.", err)
		}
		logger.WithError(err).Error("Issuance failed after payment was verified")
		return nil, IssuanceError("Failed to mint tokens.", err)
	}
	record.TxidOut = txidOut

	settleCtx, cancelSettle := afterPayment(ctx, s.settleTimeout)
	settled, err := s.store.Settle(settleCtx, record)
	cancelSettle()
	if err != nil {
		s.reportSettlementFailure(record, err)
		return nil, PersistenceError("Failed to record purchase.", err)
	}

	logger.WithFields(log.Fields{
		"txid_out":       txidOut,
		"total_paid":     total,
		"current_supply": settled.CurrentSupply,
		"status":         settled.Status,
	}).Info("Purchase settled")

	if err := s.publish(QueueMintSettled, MintSettledEvent{
		MintID:        record.ID,
		LaunchID:      settled.ID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		TotalPaid:     total,
		TxidIn:        record.TxidIn,
		TxidOut:       txidOut,
		CurrentSupply: settled.CurrentSupply,
		Status:        string(settled.Status),
		SettledAt:     s.now(),
	}); err != nil {
		logger.WithError(err).Warn("Failed to publish settlement event")
	}

	return settled, nil
}

// reportSettlementFailure makes a lost final write visible. Payment already
// happened and issuance did or may have, so the record goes to the
// reconciliation queue instead of being retried.
func (s *Service) reportSettlementFailure(record *models.Mint, cause error) {
	metrics.SettlementFailures.Inc()

	fields := log.Fields{
		"launch_id":  record.LaunchID,
		"txid_in":    record.TxidIn,
		"txid_out":   record.TxidOut,
		"amount":     record.Amount,
		"total_paid": record.TotalPaid,
		"user_id":    record.UserID,
	}
	log.WithFields(fields).WithError(cause).Error("Purchase not settled after payment, manual reconciliation required")

	if err := s.publish(QueueSettlementFailures, SettlementFailureEvent{
		LaunchID:   record.LaunchID,
		UserID:     record.UserID,
		Amount:     record.Amount,
		TotalPaid:  record.TotalPaid,
		TxidIn:     record.TxidIn,
		TxidOut:    record.TxidOut,
		Error:      cause.Error(),
		OccurredAt: s.now(),
	}); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to publish settlement failure")
	}
}
