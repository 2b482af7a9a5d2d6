package business

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/models"
	pkgsolana "launchpad/pkg/solana"
)

func launchRequest(t *testing.T) CreateLaunchRequest {
	return CreateLaunchRequest{
		UserID:       "creator",
		OwnerAddress: testOwner,
		Image:        "images/abc.png",
		Name:         "Moon Coin",
		Symbol:       "MOON",
		Description:  "A coin",
		MaxSupply:    1_000_000,
		Premint:      1000,
		Decimals:     6,
		Price:        0.0001,
		StartDate:    testNow.Add(time.Hour),
		EndDate:      testNow.Add(48 * time.Hour),
		Website:      "https://moon.example",
		SignedTx:     signedPayment(t),
	}
}

func TestCreateLaunch(t *testing.T) {
	h := newHarness(t)
	req := launchRequest(t)

	launch, err := h.svc.CreateLaunch(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, launch.ID)
	assert.Equal(t, "token-1", launch.MintAddress)
	assert.Equal(t, models.LaunchStatusUpcoming, launch.Status)
	assert.Equal(t, uint64(1000), launch.CurrentSupply)
	assert.Equal(t, uint64(1000), launch.Premint)
	assert.Equal(t, uint64(100_000), launch.Price)
	assert.Equal(t, uint8(6), launch.Decimals)

	issued := h.issuer.issued()
	require.Len(t, issued, 1)
	assert.Equal(t, issuedMint{1000, testOwner, "token-1", 6}, issued[0])

	exp := h.verifier.lastCall()
	assert.Equal(t, testOwner, exp.Payer)
	assert.Equal(t, []string{testFeeWallet}, exp.Recipients)
	assert.Equal(t, testLaunchFee, exp.MinAmount)
	assert.Zero(t, exp.Tolerance)

	txid, err := pkgsolana.PayloadSignature(req.SignedTx)
	require.NoError(t, err)
	used, err := h.store.FeePaymentExists(context.Background(), txid)
	require.NoError(t, err)
	assert.True(t, used)

	t.Run("fee payment cannot be reused", func(t *testing.T) {
		again := req
		again.Name, again.Symbol = "Other", "OTH"
		_, err := h.svc.CreateLaunch(context.Background(), again)
		assert.Equal(t, KindPaymentVerification, KindOf(err))
		assert.Equal(t, "Payment has already been used.", MessageOf(err))
	})

	t.Run("name or symbol taken", func(t *testing.T) {
		dup := launchRequest(t)
		dup.Symbol = "NEW"
		_, err := h.svc.CreateLaunch(context.Background(), dup)
		assert.Equal(t, KindValidation, KindOf(err))
		assert.Equal(t, "Name or symbol already exist", MessageOf(err))
	})
}

func TestCreateLaunchWithoutPremint(t *testing.T) {
	h := newHarness(t)
	req := launchRequest(t)
	req.Premint = 0

	launch, err := h.svc.CreateLaunch(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, launch.CurrentSupply)
	assert.Empty(t, h.issuer.issued())
}

func TestCreateLaunchValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(r *CreateLaunchRequest)
		kind    Kind
		message string
	}{
		{"unauthorized", func(r *CreateLaunchRequest) { r.OwnerAddress = "" }, KindAuthorization, "Unauthorized."},
		{"image required", func(r *CreateLaunchRequest) { r.Image = "" }, KindValidation, "Image is required"},
		{"name required", func(r *CreateLaunchRequest) { r.Name = " " }, KindValidation, "Name is required"},
		{"symbol required", func(r *CreateLaunchRequest) { r.Symbol = "" }, KindValidation, "Symbol is required"},
		{"description required", func(r *CreateLaunchRequest) { r.Description = "" }, KindValidation, "Description is required"},
		{"max supply required", func(r *CreateLaunchRequest) { r.MaxSupply = 0 }, KindValidation, "Max supply is required"},
		{"decimals required", func(r *CreateLaunchRequest) { r.Decimals = 0 }, KindValidation, "Decimals is required"},
		{"signature required", func(r *CreateLaunchRequest) { r.SignedTx = nil }, KindValidation, "Signature is required"},
		{"price required", func(r *CreateLaunchRequest) { r.Price = 0 }, KindValidation, "Price is required"},
		{"name too long", func(r *CreateLaunchRequest) { r.Name = strings.Repeat("n", 51) }, KindValidation, "Name must be less than 50 characters"},
		{"symbol too long", func(r *CreateLaunchRequest) { r.Symbol = "TOOLNG" }, KindValidation, "Symbol must be less than 5 characters"},
		{"start after end", func(r *CreateLaunchRequest) { r.EndDate = r.StartDate.Add(-time.Minute) }, KindValidation, "Start date must be before end date"},
		{"start equals end", func(r *CreateLaunchRequest) { r.EndDate = r.StartDate }, KindValidation, "Start date must be before end date"},
		{"start in the past", func(r *CreateLaunchRequest) { r.StartDate = testNow.Add(-time.Second) }, KindValidation, "Start date must be in the future"},
		{"negative max supply", func(r *CreateLaunchRequest) { r.MaxSupply = -5 }, KindValidation, "Max supply must be greater than 0"},
		{"negative premint", func(r *CreateLaunchRequest) { r.Premint = -1 }, KindValidation, "Premint must not be negative"},
		{"premint equals max", func(r *CreateLaunchRequest) { r.Premint = r.MaxSupply }, KindValidation, "Max supply must be greater than premint"},
		{"negative price", func(r *CreateLaunchRequest) { r.Price = -1 }, KindValidation, "Price must be greater than 0"},
		{"price below one lamport", func(r *CreateLaunchRequest) { r.Price = 1e-12 }, KindValidation, "Price must be greater than 0"},
		{"decimals too high", func(r *CreateLaunchRequest) { r.Decimals = 7 }, KindValidation, "Decimals must be between 1 and 6"},
		{"decimals negative", func(r *CreateLaunchRequest) { r.Decimals = -1 }, KindValidation, "Decimals must be between 1 and 6"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			req := launchRequest(t)
			tc.mutate(&req)

			_, err := h.svc.CreateLaunch(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.Equal(t, tc.message, MessageOf(err))
			assert.Equal(t, 0, h.verifier.callCount())
			assert.Equal(t, 0, h.store.writeCount())
		})
	}
}

func TestCreateLaunchFailures(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		h := newHarness(t)
		h.svc.balances = &fakeBalances{balance: testLaunchFee - 1}

		_, err := h.svc.CreateLaunch(context.Background(), launchRequest(t))
		assert.Equal(t, KindPaymentVerification, KindOf(err))
		assert.Equal(t, "Not enough SOL to pay fee.", MessageOf(err))
		assert.Equal(t, 0, h.verifier.callCount())
	})

	t.Run("fee not paid", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.verify = func(ctx context.Context, exp pkgsolana.PaymentExpectation) (*pkgsolana.VerifiedPayment, error) {
			return nil, pkgsolana.ErrDestinationMismatch
		}

		_, err := h.svc.CreateLaunch(context.Background(), launchRequest(t))
		assert.Equal(t, KindPaymentVerification, KindOf(err))
		assert.Equal(t, "Invalid signature.", MessageOf(err))
		assert.Equal(t, 0, h.issuer.tokens)
	})

	t.Run("token creation fails", func(t *testing.T) {
		h := newHarness(t)
		h.issuer.createErr = errors.New("insufficient funds for rent")

		_, err := h.svc.CreateLaunch(context.Background(), launchRequest(t))
		assert.Equal(t, KindIssuance, KindOf(err))
		assert.Equal(t, "Failed to generate token.", MessageOf(err))
		assert.Equal(t, 0, h.store.writeCount())
	})

	t.Run("premint fails", func(t *testing.T) {
		h := newHarness(t)
		h.issuer.mintErr = errors.New("blockhash expired")

		_, err := h.svc.CreateLaunch(context.Background(), launchRequest(t))
		assert.Equal(t, KindIssuance, KindOf(err))
		assert.Equal(t, "Failed to mint tokens.", MessageOf(err))
		assert.Equal(t, 0, h.store.writeCount())
	})
}

func TestCreateLaunchReadFailuresAreRetryable(t *testing.T) {
	cases := []struct {
		name    string
		fail    func(h *harness)
		message string
	}{
		{"name lookup", func(h *harness) { h.store.takenErr = errors.New("too many connections") }, "Failed to check name and symbol."},
		{"balance lookup", func(h *harness) { h.svc.balances = &fakeBalances{err: errors.New("rpc timeout")} }, "Failed to check balance."},
		{"fee replay lookup", func(h *harness) { h.store.feeExistsErr = errors.New("too many connections") }, "Failed to check payment."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.fail(h)

			_, err := h.svc.CreateLaunch(context.Background(), launchRequest(t))
			require.Error(t, err)
			assert.Equal(t, KindUnavailable, KindOf(err))
			assert.Equal(t, tc.message, MessageOf(err))

			var typed *Error
			require.True(t, errors.As(err, &typed))
			assert.True(t, typed.PreSideEffect())
			assert.Equal(t, 0, h.verifier.callCount())
			assert.Equal(t, 0, h.issuer.tokens)
			assert.Equal(t, 0, h.store.writeCount())
		})
	}
}

func TestCreateToken(t *testing.T) {
	h := newHarness(t)
	req := CreateTokenRequest{
		UserID:       "creator",
		OwnerAddress: testOwner,
		Image:        "images/t.png",
		Name:         "Plain Token",
		Symbol:       "PLN",
		Description:  "No presale",
		MaxSupply:    21_000_000,
		Decimals:     2,
		SignedTx:     signedPayment(t),
	}

	mintAddress, err := h.svc.CreateToken(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "token-1", mintAddress)

	issued := h.issuer.issued()
	require.Len(t, issued, 1)
	assert.Equal(t, issuedMint{21_000_000, testOwner, "token-1", 2}, issued[0])

	_, err = h.svc.CreateToken(context.Background(), req)
	assert.Equal(t, KindPaymentVerification, KindOf(err))

	bad := req
	bad.Decimals = 9
	_, err = h.svc.CreateToken(context.Background(), bad)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "Decimals must be between 1 and 6", MessageOf(err))
}

func TestSOLToLamports(t *testing.T) {
	assert.Equal(t, uint64(1_000_000_000), SOLToLamports(1))
	assert.Equal(t, uint64(100_000), SOLToLamports(0.0001))
	assert.Equal(t, uint64(1), SOLToLamports(0.0000000006))
	assert.Equal(t, uint64(0), SOLToLamports(0.0000000004))
	assert.Equal(t, uint64(0), SOLToLamports(-2))
}
