package business

import (
	"context"
	"errors"
	"time"

	"launchpad/internal/admission"
	"launchpad/internal/models"
	"launchpad/pkg/solana"
)

// Queue names for events published after settlement
const (
	QueueMintSettled        = "launch_mint_settled"
	QueueSettlementFailures = "launch_settlement_failures"
)

var (
	// ErrNotFound is returned by stores for a missing launch
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by stores when a unique index rejects a write
	ErrDuplicate = errors.New("duplicate record")
)

// LaunchStore reads launches and records new ones. Existing launches are only
// changed through SettlementWriter.
type LaunchStore interface {
	GetLaunch(ctx context.Context, id string) (*models.Launch, error)
	NameOrSymbolTaken(ctx context.Context, name, symbol string) (bool, error)
	CreateLaunch(ctx context.Context, launch *models.Launch) error
	ListLaunchesByStatus(ctx context.Context, statuses ...models.LaunchStatus) ([]models.Launch, error)
	MintExists(ctx context.Context, txidIn string) (bool, error)
	FeePaymentExists(ctx context.Context, txid string) (bool, error)
	RecordFeePayment(ctx context.Context, fee *models.FeePayment) error
}

// SettlementWriter is the only mutator of an existing launch.
type SettlementWriter interface {
	// Settle inserts mint and credits its amount to the launch in one
	// transaction, marking the launch finished when supply reaches max.
	Settle(ctx context.Context, mint *models.Mint) (*models.Launch, error)
	// SyncStatus stores a re-derived lifecycle status.
	SyncStatus(ctx context.Context, launchID string, status models.LaunchStatus) error
}

// Store is everything the pipelines need from persistence
type Store interface {
	LaunchStore
	SettlementWriter
}

// PaymentVerifier confirms a client-signed payment on-chain
type PaymentVerifier interface {
	Verify(ctx context.Context, exp solana.PaymentExpectation) (*solana.VerifiedPayment, error)
}

// TokenIssuer creates token mints and issues tokens from them
type TokenIssuer interface {
	CreateToken(ctx context.Context, decimals uint8) (string, error)
	// Mint returns the issuance signature. A non-empty signature with an
	// error means the transaction was sent but its outcome is unknown.
	Mint(ctx context.Context, amount uint64, recipient, tokenAddress string, decimals uint8) (string, error)
}

// BalanceChecker reports a wallet's native balance in lamports
type BalanceChecker interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// EventPublisher publishes a JSON message to a named durable queue
type EventPublisher interface {
	Publish(queueName string, message interface{}) error
}

// Deps wires a Service. Publisher and Balances are optional.
type Deps struct {
	Store     Store
	Verifier  PaymentVerifier
	Issuer    TokenIssuer
	Balances  BalanceChecker
	Publisher EventPublisher
	Queue     *admission.Queue

	// FeeWallet receives purchase protocol fees and launch fees
	FeeWallet string
	// LaunchFee is the flat creation fee in lamports
	LaunchFee uint64

	// IssueTimeout and SettleTimeout bound issuance and the settlement write
	// once a payment is verified. Zero uses the defaults.
	IssueTimeout  time.Duration
	SettleTimeout time.Duration

	Now func() time.Time
}

const (
	defaultIssueTimeout  = 2 * time.Minute
	defaultSettleTimeout = 30 * time.Second
)

// Service runs the purchase, launch-creation and status-sync pipelines.
type Service struct {
	store     Store
	verifier  PaymentVerifier
	issuer    TokenIssuer
	balances  BalanceChecker
	publisher EventPublisher
	queue     *admission.Queue
	feeWallet string
	launchFee uint64
	now       func() time.Time

	issueTimeout  time.Duration
	settleTimeout time.Duration
}

func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	issueTimeout := d.IssueTimeout
	if issueTimeout <= 0 {
		issueTimeout = defaultIssueTimeout
	}
	settleTimeout := d.SettleTimeout
	if settleTimeout <= 0 {
		settleTimeout = defaultSettleTimeout
	}
	return &Service{
		store:         d.Store,
		verifier:      d.Verifier,
		issuer:        d.Issuer,
		balances:      d.Balances,
		publisher:     d.Publisher,
		queue:         d.Queue,
		feeWallet:     d.FeeWallet,
		launchFee:     d.LaunchFee,
		now:           now,
		issueTimeout:  issueTimeout,
		settleTimeout: settleTimeout,
	}
}

// afterPayment detaches ctx from its caller's deadline once money has moved,
// bounded by timeout instead.
func afterPayment(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (s *Service) publish(queueName string, message interface{}) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(queueName, message)
}
