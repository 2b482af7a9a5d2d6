package business

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"launchpad/internal/metrics"
	"launchpad/internal/models"
	"launchpad/pkg/solana"
)

const (
	lamportsPerSOL = 1_000_000_000

	maxNameLength   = 50
	maxSymbolLength = 5
	minDecimals     = 1
	maxDecimals     = 6

	operationCreateLaunch = "create_launch"
	operationCreateToken  = "create_token"
)

// CreateLaunchRequest describes a new presale. Price is in SOL per whole
// token and is stored in lamports.
type CreateLaunchRequest struct {
	UserID       string
	OwnerAddress string

	Image       string
	Name        string
	Symbol      string
	Description string
	MaxSupply   int64
	Premint     int64
	Decimals    int
	Price       float64
	StartDate   time.Time
	EndDate     time.Time

	Website  string
	Twitter  string
	Telegram string
	Discord  string

	SignedTx []byte
}

// CreateTokenRequest describes a standalone token whose whole supply goes to
// the owner.
type CreateTokenRequest struct {
	UserID       string
	OwnerAddress string

	Image       string
	Name        string
	Symbol      string
	Description string
	MaxSupply   int64
	Decimals    int

	SignedTx []byte
}

// SOLToLamports converts a SOL amount to lamports, rounding to the nearest
// lamport.
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 || math.IsNaN(sol) {
		return 0
	}
	lamports := math.Round(sol * lamportsPerSOL)
	if lamports >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(lamports)
}

// CreateLaunch verifies the launch fee, creates the token, premints to the
// owner and records the launch. It does not go through the admission queue.
func (s *Service) CreateLaunch(ctx context.Context, req CreateLaunchRequest) (launch *models.Launch, err error) {
	defer recordCreateOutcome(operationCreateLaunch, &err)

	if req.UserID == "" || req.OwnerAddress == "" {
		return nil, AuthorizationError("Unauthorized.")
	}
	if err := validateLaunchRequest(s.now(), req); err != nil {
		return nil, err
	}

	taken, err := s.store.NameOrSymbolTaken(ctx, req.Name, req.Symbol)
	if err != nil {
		return nil, UnavailableError("Failed to check name and symbol.", err)
	}
	if taken {
		return nil, ValidationError("Name or symbol already exist")
	}

	logger := log.WithFields(log.Fields{
		"user_id": req.UserID,
		"owner":   req.OwnerAddress,
		"name":    req.Name,
		"symbol":  req.Symbol,
	})

	fee, err := s.collectLaunchFee(ctx, operationCreateLaunch, req.UserID, req.OwnerAddress, req.SignedTx)
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("fee_txid", fee.Txid)

	issueCtx, cancelIssue := afterPayment(ctx, s.issueTimeout)
	defer cancelIssue()

	decimals := uint8(req.Decimals)
	mintAddress, err := s.issuer.CreateToken(issueCtx, decimals)
	if err != nil {
		logger.WithError(err).Error("Token creation failed after launch fee was paid")
		return nil, IssuanceError("Failed to generate token.", err)
	}
	logger = logger.WithField("mint_address", mintAddress)

	premint := uint64(req.Premint)
	if premint > 0 {
		if txid, err := s.issuer.Mint(issueCtx, premint, req.OwnerAddress, mintAddress, decimals); err != nil {
			logger.WithError(err).WithField("txid_out", txid).Error("Premint failed")
			return nil, IssuanceError("Failed to mint tokens.", err)
		}
	}

	launch = &models.Launch{
		MintAddress:   mintAddress,
		OwnerAddress:  req.OwnerAddress,
		UserID:        req.UserID,
		Image:         req.Image,
		Name:          req.Name,
		Symbol:        req.Symbol,
		Description:   req.Description,
		MaxSupply:     uint64(req.MaxSupply),
		CurrentSupply: premint,
		Premint:       premint,
		Decimals:      decimals,
		Price:         SOLToLamports(req.Price),
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Status:        models.LaunchStatusUpcoming,
		Website:       req.Website,
		Twitter:       req.Twitter,
		Telegram:      req.Telegram,
		Discord:       req.Discord,
	}
	storeCtx, cancelStore := afterPayment(ctx, s.settleTimeout)
	defer cancelStore()
	if err := s.store.CreateLaunch(storeCtx, launch); err != nil {
		logger.WithError(err).Error("Failed to save launch after token creation")
		return nil, PersistenceError("Failed to save launch.", err)
	}

	logger.WithField("launch_id", launch.ID).Info("Launch created")
	return launch, nil
}

// CreateToken verifies the launch fee, creates a token and mints its whole
// supply to the owner. It returns the token's mint address.
func (s *Service) CreateToken(ctx context.Context, req CreateTokenRequest) (mintAddress string, err error) {
	defer recordCreateOutcome(operationCreateToken, &err)

	if req.UserID == "" || req.OwnerAddress == "" {
		return "", AuthorizationError("Unauthorized.")
	}
	if err := validateTokenFields(req.Image, req.Name, req.Symbol, req.Description, req.MaxSupply, req.Decimals, req.SignedTx); err != nil {
		return "", err
	}

	logger := log.WithFields(log.Fields{
		"user_id": req.UserID,
		"owner":   req.OwnerAddress,
		"symbol":  req.Symbol,
	})

	if _, err := s.collectLaunchFee(ctx, operationCreateToken, req.UserID, req.OwnerAddress, req.SignedTx); err != nil {
		return "", err
	}

	issueCtx, cancelIssue := afterPayment(ctx, s.issueTimeout)
	defer cancelIssue()

	decimals := uint8(req.Decimals)
	mintAddress, err = s.issuer.CreateToken(issueCtx, decimals)
	if err != nil {
		logger.WithError(err).Error("Token creation failed after fee was paid")
		return "", IssuanceError("Failed to generate token.", err)
	}

	if txid, err := s.issuer.Mint(issueCtx, uint64(req.MaxSupply), req.OwnerAddress, mintAddress, decimals); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"mint_address": mintAddress,
			"txid_out":     txid,
		}).Error("Supply mint failed")
		return "", IssuanceError("Failed to mint tokens.", err)
	}

	logger.WithField("mint_address", mintAddress).Info("Token created")
	return mintAddress, nil
}

func validateLaunchRequest(now time.Time, req CreateLaunchRequest) error {
	if err := validateTokenFields(req.Image, req.Name, req.Symbol, req.Description, req.MaxSupply, req.Decimals, req.SignedTx); err != nil {
		return err
	}
	if req.Price == 0 {
		return ValidationError("Price is required")
	}
	if req.StartDate.IsZero() {
		return ValidationError("Start date is required")
	}
	if req.EndDate.IsZero() {
		return ValidationError("End date is required")
	}
	if !req.StartDate.Before(req.EndDate) {
		return ValidationError("Start date must be before end date")
	}
	if req.StartDate.Before(now) {
		return ValidationError("Start date must be in the future")
	}
	if req.Premint < 0 {
		return ValidationError("Premint must not be negative")
	}
	if req.MaxSupply <= req.Premint {
		return ValidationError("Max supply must be greater than premint")
	}
	if req.Price < 0 || SOLToLamports(req.Price) == 0 {
		return ValidationError("Price must be greater than 0")
	}
	return nil
}

func validateTokenFields(image, name, symbol, description string, maxSupply int64, decimals int, signedTx []byte) error {
	switch {
	case image == "":
		return ValidationError("Image is required")
	case strings.TrimSpace(name) == "":
		return ValidationError("Name is required")
	case strings.TrimSpace(symbol) == "":
		return ValidationError("Symbol is required")
	case description == "":
		return ValidationError("Description is required")
	case maxSupply == 0:
		return ValidationError("Max supply is required")
	case decimals == 0:
		return ValidationError("Decimals is required")
	case len(signedTx) == 0:
		return ValidationError("Signature is required")
	}

	if utf8.RuneCountInString(name) > maxNameLength {
		return ValidationError("Name must be less than 50 characters")
	}
	if utf8.RuneCountInString(symbol) > maxSymbolLength {
		return ValidationError("Symbol must be less than 5 characters")
	}
	if maxSupply < 0 {
		return ValidationError("Max supply must be greater than 0")
	}
	if decimals < minDecimals || decimals > maxDecimals {
		return ValidationError("Decimals must be between 1 and 6")
	}
	return nil
}

// collectLaunchFee checks the owner can cover the flat fee, then verifies the
// fee payment as the transaction's final instruction and records it.
func (s *Service) collectLaunchFee(ctx context.Context, operation, userID, owner string, signedTx []byte) (*models.FeePayment, error) {
	if s.balances != nil {
		balance, err := s.balances.GetBalance(ctx, owner)
		if err != nil {
			return nil, UnavailableError("Failed to check balance.", err)
		}
		if balance < s.launchFee {
			return nil, PaymentVerificationError("Not enough SOL to pay fee.", nil)
		}
	}

	txid, err := solana.PayloadSignature(signedTx)
	if err != nil {
		return nil, ValidationError("Invalid signature.")
	}
	used, err := s.store.FeePaymentExists(ctx, txid)
	if err != nil {
		return nil, UnavailableError("Failed to check payment.", err)
	}
	if used {
		return nil, PaymentVerificationError("Payment has already been used.", nil)
	}

	payment, err := s.verifier.Verify(ctx, solana.PaymentExpectation{
		RawTx:      signedTx,
		Payer:      owner,
		Recipients: []string{s.feeWallet},
		MinAmount:  s.launchFee,
	})
	if err != nil {
		return nil, PaymentVerificationError("Invalid signature.", err)
	}

	fee := &models.FeePayment{
		Txid:         payment.Signature,
		Operation:    operation,
		OwnerAddress: owner,
		UserID:       userID,
		Amount:       payment.Paid,
	}
	if err := s.store.RecordFeePayment(ctx, fee); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, PaymentVerificationError("Payment has already been used.", err)
		}
		return nil, PersistenceError("Failed to record fee payment.", err)
	}
	return fee, nil
}

func recordCreateOutcome(operation string, err *error) {
	kind := "ok"
	if *err != nil {
		kind = string(KindOf(*err))
	}
	metrics.LaunchCreateOutcomes.WithLabelValues(operation, kind).Inc()
}
