package solana

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// SPL token mint account layout size
const mintAccountSize uint64 = 82

var ErrAmountOverflow = errors.New("token amount overflows u64 base units")

// Issuer mints SPL tokens and creates new token mints, signing with the hot
// wallet that holds mint authority.
type Issuer struct {
	client    *rpc.Client
	ledger    *RPCLedger
	authority solana.PrivateKey
}

func NewIssuer(client *rpc.Client, authority solana.PrivateKey) *Issuer {
	return &Issuer{
		client:    client,
		ledger:    NewRPCLedger(client),
		authority: authority,
	}
}

// Authority returns the public key that signs issuance transactions
func (i *Issuer) Authority() solana.PublicKey {
	return i.authority.PublicKey()
}

// ToBaseUnits scales whole tokens to base units for the given decimals.
func ToBaseUnits(amount uint64, decimals uint8) (uint64, error) {
	scale := uint64(1)
	for d := uint8(0); d < decimals; d++ {
		hi, lo := bits.Mul64(scale, 10)
		if hi != 0 {
			return 0, ErrAmountOverflow
		}
		scale = lo
	}
	hi, lo := bits.Mul64(amount, scale)
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	return lo, nil
}

// Mint issues amount whole tokens of tokenAddress to recipient, creating the
// recipient's associated token account when needed. When the transaction was
// sent but its confirmation is unknown, the signature is returned with the
// error so the issuance can be reconciled.
func (i *Issuer) Mint(ctx context.Context, amount uint64, recipient, tokenAddress string, decimals uint8) (string, error) {
	if amount == 0 {
		return "", fmt.Errorf("amount must be greater than 0")
	}

	recipientPubkey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}
	mintPubkey, err := solana.PublicKeyFromBase58(tokenAddress)
	if err != nil {
		return "", fmt.Errorf("invalid mint: %w", err)
	}
	raw, err := ToBaseUnits(amount, decimals)
	if err != nil {
		return "", err
	}

	ata, err := GetAssociatedTokenAddress(mintPubkey, recipientPubkey)
	if err != nil {
		return "", err
	}

	payer := i.authority.PublicKey()
	var instructions []solana.Instruction

	ataInfo, _ := i.client.GetAccountInfo(ctx, ata)
	if ataInfo == nil || ataInfo.Value == nil {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(payer, recipientPubkey, mintPubkey).Build())
	}
	instructions = append(instructions,
		token.NewMintToInstruction(raw, mintPubkey, ata, payer, nil).Build())

	sig, err := i.sendAndConfirm(ctx, instructions, nil)
	if err != nil {
		return sig, fmt.Errorf("mint to %s: %w", recipient, err)
	}

	log.WithFields(log.Fields{
		"mint":      tokenAddress,
		"recipient": recipient,
		"amount":    amount,
		"raw":       raw,
		"signature": sig,
	}).Info("Tokens minted")
	return sig, nil
}

// CreateToken creates a new SPL token mint whose mint authority is the hot
// wallet and returns its address.
func (i *Issuer) CreateToken(ctx context.Context, decimals uint8) (string, error) {
	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate mint key: %w", err)
	}
	mintPubkey := mintKey.PublicKey()
	payer := i.authority.PublicKey()

	rent, err := i.client.GetMinimumBalanceForRentExemption(ctx, mintAccountSize, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("get rent exemption: %w", err)
	}

	instructions := []solana.Instruction{
		system.NewCreateAccountInstruction(rent, mintAccountSize, solana.TokenProgramID, payer, mintPubkey).Build(),
		token.NewInitializeMintInstruction(decimals, payer, payer, mintPubkey, solana.SysVarRentPubkey).Build(),
	}

	sig, err := i.sendAndConfirm(ctx, instructions, &mintKey)
	if err != nil {
		return "", fmt.Errorf("create mint: %w", err)
	}

	log.WithFields(log.Fields{
		"mint":      mintPubkey.String(),
		"decimals":  decimals,
		"signature": sig,
	}).Info("Token mint created")
	return mintPubkey.String(), nil
}

func (i *Issuer) sendAndConfirm(ctx context.Context, instructions []solana.Instruction, extra *solana.PrivateKey) (string, error) {
	payer := i.authority.PublicKey()

	recent, err := i.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &i.authority
		}
		if extra != nil && key.Equals(extra.PublicKey()) {
			return extra
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := i.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	return confirmOutcome(sig.String(), i.ledger.AwaitFinality(ctx, Submission{
		Signature:            sig.String(),
		LastValidBlockHeight: recent.Value.LastValidBlockHeight,
	}))
}

// confirmOutcome keeps the signature of a sent transaction unless the chain
// reported it failed.
func confirmOutcome(sig string, err error) (string, error) {
	switch {
	case err == nil:
		return sig, nil
	case errors.Is(err, ErrTransactionFailed):
		return "", err
	default:
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}
}

// GetAssociatedTokenAddress derives the associated token account of owner for mint
func GetAssociatedTokenAddress(mint, owner solana.PublicKey) (solana.PublicKey, error) {
	seeds := [][]byte{
		owner[:],
		solana.TokenProgramID[:],
		mint[:],
	}

	address, _, err := solana.FindProgramAddress(seeds, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to find associated token address: %w", err)
	}

	return address, nil
}
