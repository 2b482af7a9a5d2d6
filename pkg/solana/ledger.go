package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrTransactionFailed   = errors.New("transaction failed on-chain")
	ErrFinalityTimeout     = errors.New("transaction not confirmed within its validity window")
	ErrTransactionNotFound = errors.New("transaction not found")
)

const (
	// Finality polling backoff
	initialPollDelay      = 500 * time.Millisecond
	maxPollDelay          = 5 * time.Second
	pollBackoffMultiplier = 2.0

	// Parsed transaction lookups can lag confirmation on some RPC nodes
	maxTransactionRetries = 3
)

// Transfer is one parsed native SOL transfer instruction
type Transfer struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Lamports    uint64 `json:"lamports"`
}

// Instruction is one top-level instruction of a confirmed transaction, in
// position. Transfer is set only for native SOL transfers.
type Instruction struct {
	Program  string
	Type     string
	Transfer *Transfer
}

func (ix Instruction) String() string {
	switch {
	case ix.Program == "":
		return "unparsed instruction"
	case ix.Type == "":
		return ix.Program
	default:
		return ix.Program + "/" + ix.Type
	}
}

// Submission identifies a broadcast transaction and bounds how long it can
// still land: by LastValidBlockHeight when known, otherwise by the validity
// of the blockhash it was signed against.
type Submission struct {
	Signature            string
	LastValidBlockHeight uint64
	RecentBlockhash      solana.Hash
}

// Ledger is the payment network as seen by the verifier.
type Ledger interface {
	Broadcast(ctx context.Context, rawTx []byte) (Submission, error)
	AwaitFinality(ctx context.Context, sub Submission) error
	GetInstructions(ctx context.Context, signature string) ([]Instruction, error)
}

// RPCLedger implements Ledger over a shared Solana JSON-RPC client.
type RPCLedger struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

func NewRPCLedger(client *rpc.Client) *RPCLedger {
	return &RPCLedger{
		client:     client,
		commitment: rpc.CommitmentConfirmed,
	}
}

func decodeSignedTx(rawTx []byte) (*solana.Transaction, error) {
	if len(rawTx) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidTransaction)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return nil, fmt.Errorf("%w: transaction is not signed", ErrInvalidTransaction)
	}
	return tx, nil
}

// PayloadSignature returns the fee-payer signature of a serialized signed
// transaction, which becomes its transaction id once broadcast.
func PayloadSignature(rawTx []byte) (string, error) {
	tx, err := decodeSignedTx(rawTx)
	if err != nil {
		return "", err
	}
	return tx.Signatures[0].String(), nil
}

// GetBalance returns the native balance of address in lamports
func (l *RPCLedger) GetBalance(ctx context.Context, address string) (uint64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %s: %w", address, err)
	}
	balance, err := l.client.GetBalance(ctx, pubkey, l.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance.Value, nil
}

// Broadcast relays a signed transaction as-is. The finality wait is bounded
// by the blockhash the payload itself was signed against.
func (l *RPCLedger) Broadcast(ctx context.Context, rawTx []byte) (Submission, error) {
	tx, err := decodeSignedTx(rawTx)
	if err != nil {
		return Submission{}, err
	}

	sig, err := l.client.SendRawTransactionWithOpts(ctx, rawTx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: l.commitment,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("send raw transaction: %w", err)
	}

	return Submission{
		Signature:       sig.String(),
		RecentBlockhash: tx.Message.RecentBlockhash,
	}, nil
}

// AwaitFinality polls the signature status with exponential backoff until the
// transaction is confirmed, fails, outlives its validity window, or ctx ends.
func (l *RPCLedger) AwaitFinality(ctx context.Context, sub Submission) error {
	sig, err := solana.SignatureFromBase58(sub.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad signature: %v", ErrInvalidTransaction, err)
	}

	delay := initialPollDelay
	for attempt := 1; ; attempt++ {
		if done, err := l.checkStatus(ctx, sig, attempt); done {
			return err
		}

		if reason, expired := l.expired(ctx, sub); expired {
			// it can still have landed just before the window closed
			if done, err := l.checkStatus(ctx, sig, attempt); done {
				return err
			}
			return fmt.Errorf("%w: %s", ErrFinalityTimeout, reason)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrFinalityTimeout, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * pollBackoffMultiplier)
		if delay > maxPollDelay {
			delay = maxPollDelay
		}
	}
}

// checkStatus reports done once the transaction is confirmed or failed.
func (l *RPCLedger) checkStatus(ctx context.Context, sig solana.Signature, attempt int) (bool, error) {
	statuses, err := l.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		log.WithFields(log.Fields{
			"signature": sig.String(),
			"attempt":   attempt,
			"error":     err.Error(),
		}).Debug("Signature status lookup failed, retrying")
		return false, nil
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false, nil
	}

	status := statuses.Value[0]
	if status.Err != nil {
		errJSON, _ := json.Marshal(status.Err)
		return true, fmt.Errorf("%w: %s", ErrTransactionFailed, string(errJSON))
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return true, nil
	}
	return false, nil
}

// expired reports whether sub can no longer land. Lookup errors never expire
// a submission; ctx still bounds the wait.
func (l *RPCLedger) expired(ctx context.Context, sub Submission) (string, bool) {
	if sub.LastValidBlockHeight > 0 {
		height, err := l.client.GetBlockHeight(ctx, l.commitment)
		if err == nil && height > sub.LastValidBlockHeight {
			return fmt.Sprintf("block height %d passed %d", height, sub.LastValidBlockHeight), true
		}
		return "", false
	}
	if sub.RecentBlockhash.IsZero() {
		return "", false
	}

	valid, err := l.client.IsBlockhashValid(ctx, sub.RecentBlockhash, l.commitment)
	if err == nil && valid != nil && !valid.Value {
		return fmt.Sprintf("blockhash %s expired", sub.RecentBlockhash), true
	}
	return "", false
}

// GetInstructions returns every top-level instruction of a confirmed
// transaction in position, so callers can select by raw index.
func (l *RPCLedger) GetInstructions(ctx context.Context, signature string) ([]Instruction, error) {
	result, err := l.getParsedTransactionWithRetry(ctx, signature)
	if err != nil {
		return nil, err
	}
	if result.Meta != nil && result.Meta.Err != nil {
		errJSON, _ := json.Marshal(result.Meta.Err)
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, string(errJSON))
	}
	if result.Transaction == nil {
		return nil, fmt.Errorf("%w: %s has no transaction body", ErrTransactionNotFound, signature)
	}

	return instructionsFromParsed(result.Transaction.Message.Instructions), nil
}

// instructionsFromParsed keeps one entry per instruction. Parsed info
// numbers pass through float64, so lamports are exact below 2^53.
func instructionsFromParsed(parsed []*rpc.ParsedInstruction) []Instruction {
	out := make([]Instruction, 0, len(parsed))
	for _, ix := range parsed {
		var entry Instruction
		if ix != nil {
			entry.Program = ix.Program
			if info, ok := instructionInfo(ix); ok {
				entry.Type = info.InstructionType
				if ix.Program == "system" && (info.InstructionType == "transfer" || info.InstructionType == "transferWithSeed") {
					entry.Transfer = transferFromInfo(info.Info)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}

func instructionInfo(ix *rpc.ParsedInstruction) (*rpc.InstructionInfo, bool) {
	if ix.Parsed == nil {
		return nil, false
	}
	raw, err := ix.Parsed.MarshalJSON()
	if err != nil {
		return nil, false
	}
	// string payloads such as memos carry no type
	var info rpc.InstructionInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.InstructionType == "" {
		return nil, false
	}
	return &info, true
}

func transferFromInfo(info map[string]interface{}) *Transfer {
	raw, err := json.Marshal(info)
	if err != nil {
		return nil
	}
	var tr Transfer
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil
	}
	return &tr
}

// getParsedTransactionWithRetry fetches a transaction with backoff, since
// parsed lookups can lag confirmation. Only not-found results are retried.
func (l *RPCLedger) getParsedTransactionWithRetry(ctx context.Context, signature string) (*rpc.GetParsedTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature: %v", ErrInvalidTransaction, err)
	}

	maxVersion := uint64(0)
	opts := &rpc.GetParsedTransactionOpts{
		Commitment:                     l.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	delay := initialPollDelay
	for attempt := 0; attempt <= maxTransactionRetries; attempt++ {
		tx, err := l.client.GetParsedTransaction(ctx, sig, opts)
		if err == nil {
			if attempt > 0 {
				log.WithFields(log.Fields{
					"signature":      signature,
					"retry_attempts": attempt,
				}).Info("Retrieved transaction after retries")
			}
			return tx, nil
		}
		if !errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("get transaction %s: %w", signature, err)
		}

		if attempt == maxTransactionRetries {
			break
		}

		log.WithFields(log.Fields{
			"signature":      signature,
			"attempt":        attempt + 1,
			"retry_delay_ms": delay.Milliseconds(),
		}).Debug("Transaction not found, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * pollBackoffMultiplier)
		if delay > maxPollDelay {
			delay = maxPollDelay
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
}
