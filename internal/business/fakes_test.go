package business

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"

	"launchpad/internal/admission"
	"launchpad/internal/models"
	pkgsolana "launchpad/pkg/solana"
)

const (
	testFeeWallet = "FeeWa11et111111111111111111111111111111111"
	testOwner     = "OwnerWa11et1111111111111111111111111111111"
	testLaunchFee = uint64(100_000_000)
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu        sync.Mutex
	launches  map[string]*models.Launch
	mints     []models.Mint
	fees      map[string]models.FeePayment
	settleErr error
	syncErr   error
	writes    int

	// read failures
	getErr       error
	takenErr     error
	listErr      error
	existsErr    error
	feeExistsErr error
}

func newMemoryStore(launches ...*models.Launch) *memoryStore {
	s := &memoryStore{
		launches: make(map[string]*models.Launch),
		fees:     make(map[string]models.FeePayment),
	}
	for _, l := range launches {
		s.launches[l.ID] = l
	}
	return s
}

func (s *memoryStore) GetLaunch(ctx context.Context, id string) (*models.Launch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	l, ok := s.launches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memoryStore) NameOrSymbolTaken(ctx context.Context, name, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takenErr != nil {
		return false, s.takenErr
	}
	for _, l := range s.launches {
		if l.Name == name || l.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) CreateLaunch(ctx context.Context, launch *models.Launch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if launch.ID == "" {
		launch.ID = fmt.Sprintf("launch-%d", len(s.launches)+1)
	}
	cp := *launch
	s.launches[launch.ID] = &cp
	s.writes++
	return nil
}

func (s *memoryStore) ListLaunchesByStatus(ctx context.Context, statuses ...models.LaunchStatus) ([]models.Launch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Launch
	for _, l := range s.launches {
		for _, st := range statuses {
			if l.Status == st {
				out = append(out, *l)
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) MintExists(ctx context.Context, txidIn string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	for _, m := range s.mints {
		if m.TxidIn == txidIn {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) FeePaymentExists(ctx context.Context, txid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeExistsErr != nil {
		return false, s.feeExistsErr
	}
	_, ok := s.fees[txid]
	return ok, nil
}

func (s *memoryStore) RecordFeePayment(ctx context.Context, fee *models.FeePayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fees[fee.Txid]; ok {
		return ErrDuplicate
	}
	s.fees[fee.Txid] = *fee
	return nil
}

// Settle fails on a done ctx, as a database write would.
func (s *memoryStore) Settle(ctx context.Context, mint *models.Mint) (*models.Launch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	l, ok := s.launches[mint.LaunchID]
	if !ok {
		return nil, ErrNotFound
	}
	if l.CurrentSupply+mint.Amount > l.MaxSupply {
		return nil, errors.New("supply guard rejected settlement")
	}
	mint.ID = fmt.Sprintf("mint-%d", len(s.mints)+1)
	s.mints = append(s.mints, *mint)
	l.CurrentSupply += mint.Amount
	if l.CurrentSupply >= l.MaxSupply {
		l.Status = models.LaunchStatusFinished
	} else {
		l.Status = models.LaunchStatusLive
	}
	s.writes++
	cp := *l
	return &cp, nil
}

func (s *memoryStore) SyncStatus(ctx context.Context, launchID string, status models.LaunchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncErr != nil {
		return s.syncErr
	}
	l, ok := s.launches[launchID]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	s.writes++
	return nil
}

func (s *memoryStore) snapshot(id string) models.Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.launches[id]
}

func (s *memoryStore) mintRecords() []models.Mint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Mint(nil), s.mints...)
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeVerifier accepts every payment at exactly the required amount unless
// verify is set.
type fakeVerifier struct {
	mu     sync.Mutex
	calls  []pkgsolana.PaymentExpectation
	verify func(ctx context.Context, exp pkgsolana.PaymentExpectation) (*pkgsolana.VerifiedPayment, error)
}

func (v *fakeVerifier) Verify(ctx context.Context, exp pkgsolana.PaymentExpectation) (*pkgsolana.VerifiedPayment, error) {
	v.mu.Lock()
	v.calls = append(v.calls, exp)
	verify := v.verify
	v.mu.Unlock()

	if verify != nil {
		return verify(ctx, exp)
	}
	sig, err := pkgsolana.PayloadSignature(exp.RawTx)
	if err != nil {
		return nil, err
	}
	return &pkgsolana.VerifiedPayment{Signature: sig, Paid: exp.MinAmount}, nil
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

func (v *fakeVerifier) lastCall() pkgsolana.PaymentExpectation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[len(v.calls)-1]
}

type issuedMint struct {
	Amount    uint64
	Recipient string
	Token     string
	Decimals  uint8
}

// fakeIssuer records mints. delay holds each mint regardless of ctx, like a
// transaction that lands after its caller stopped waiting. mintTxid is
// returned with mintErr for a sent but unconfirmed mint.
type fakeIssuer struct {
	mu        sync.Mutex
	mints     []issuedMint
	tokens    int
	mintErr   error
	mintTxid  string
	createErr error
	delay     time.Duration
}

func (i *fakeIssuer) CreateToken(ctx context.Context, decimals uint8) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.createErr != nil {
		return "", i.createErr
	}
	i.tokens++
	return fmt.Sprintf("token-%d", i.tokens), nil
}

func (i *fakeIssuer) Mint(ctx context.Context, amount uint64, recipient, tokenAddress string, decimals uint8) (string, error) {
	i.mu.Lock()
	delay := i.delay
	i.mu.Unlock()
	time.Sleep(delay)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.mintErr != nil {
		return i.mintTxid, i.mintErr
	}
	i.mints = append(i.mints, issuedMint{amount, recipient, tokenAddress, decimals})
	return fmt.Sprintf("out-%d", len(i.mints)), nil
}

func (i *fakeIssuer) issued() []issuedMint {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]issuedMint(nil), i.mints...)
}

type fakeBalances struct {
	balance uint64
	err     error
}

func (b *fakeBalances) GetBalance(ctx context.Context, address string) (uint64, error) {
	return b.balance, b.err
}

type published struct {
	Queue   string
	Message interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *fakePublisher) Publish(queueName string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{queueName, message})
	return nil
}

func (p *fakePublisher) on(queueName string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interface{}
	for _, m := range p.messages {
		if m.Queue == queueName {
			out = append(out, m.Message)
		}
	}
	return out
}

type harness struct {
	svc       *Service
	store     *memoryStore
	verifier  *fakeVerifier
	issuer    *fakeIssuer
	publisher *fakePublisher
	queue     *admission.Queue
}

func newHarness(t *testing.T, launches ...*models.Launch) *harness {
	t.Helper()
	return newHarnessWithTimeout(t, 5*time.Second, launches...)
}

// newHarnessWithTimeout sets the admission task deadline
func newHarnessWithTimeout(t *testing.T, taskTimeout time.Duration, launches ...*models.Launch) *harness {
	t.Helper()

	q := admission.NewQueue(taskTimeout)
	require.NoError(t, q.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	h := &harness{
		store:     newMemoryStore(launches...),
		verifier:  &fakeVerifier{},
		issuer:    &fakeIssuer{},
		publisher: &fakePublisher{},
		queue:     q,
	}
	h.svc = NewService(Deps{
		Store:     h.store,
		Verifier:  h.verifier,
		Issuer:    h.issuer,
		Balances:  &fakeBalances{balance: testLaunchFee * 10},
		Publisher: h.publisher,
		Queue:     q,
		FeeWallet: testFeeWallet,
		LaunchFee: testLaunchFee,
		Now:       func() time.Time { return testNow },
	})
	return h
}

func liveLaunch(id string, current, max, price uint64) *models.Launch {
	return &models.Launch{
		ID:            id,
		MintAddress:   "mint-" + id,
		OwnerAddress:  testOwner,
		UserID:        "creator",
		Name:          "Launch " + id,
		Symbol:        "L" + id,
		MaxSupply:     max,
		CurrentSupply: current,
		Decimals:      6,
		Price:         price,
		StartDate:     testNow.Add(-time.Hour),
		EndDate:       testNow.Add(time.Hour),
		Status:        models.LaunchStatusLive,
	}
}

// signedPayment builds a distinct, signed transaction whose signature serves
// as the payment id.
func signedPayment(t *testing.T) []byte {
	t.Helper()

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	to, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer.PublicKey(), to.PublicKey()).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func purchase(t *testing.T, launchID string, amount uint64) PurchaseRequest {
	return PurchaseRequest{
		UserID:        "buyer",
		WalletAddress: "BuyerWa11et1111111111111111111111111111111",
		LaunchID:      launchID,
		Amount:        amount,
		SignedTx:      signedPayment(t),
	}
}
