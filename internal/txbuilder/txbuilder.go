// Package txbuilder is the Transaction Builder: it holds the signing key in
// process memory, maintains strict nonce discipline, and builds, signs,
// replaces, and broadcasts EIP-1559 arbitrage transactions.
package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/arberr"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Transport is the subset of internal/rpctransport.Transport the builder
// needs.
type Transport interface {
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ArbitrageCall is the opaque call encoded into the on-chain contract's
// arbitrage entry point.
type ArbitrageCall struct {
	Tokens             []common.Address
	Amounts            []*big.Int
	AggregatorAddrs    []common.Address
	SwapPayloads       [][]byte
	FlashLoanAmount    *big.Int
	MinProfit          *big.Int
}

// Builder owns the in-process signing key and the local nonce counter.
type Builder struct {
	logger    *logger.Logger
	transport Transport

	chainID         *big.Int
	contractAddress common.Address
	key             *ecdsa.PrivateKey
	fromAddress     common.Address
	maxGasPriceGwei *big.Int

	mu    sync.Mutex
	nonce uint64
	init  bool

	pendingMu sync.Mutex
	pending   map[common.Hash]*arb.PendingTx
}

// New builds a Transaction Builder. privateKeyHex is the operator's signing
// key, read once from the environment and never logged.
func New(log *logger.Logger, transport Transport, chainID *big.Int, contractAddress common.Address, privateKeyHex string, maxGasPriceGwei *big.Int) (*Builder, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: invalid private key: %w", err)
	}

	return &Builder{
		logger:          log.Named("txbuilder"),
		transport:       transport,
		chainID:         chainID,
		contractAddress: contractAddress,
		key:             key,
		fromAddress:     crypto.PubkeyToAddress(key.PublicKey),
		maxGasPriceGwei: maxGasPriceGwei,
		pending:         make(map[common.Hash]*arb.PendingTx),
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// FromAddress is the wallet address the builder signs with.
func (b *Builder) FromAddress() common.Address { return b.fromAddress }

// nextNonce returns the next nonce to use, initializing from the pending
// transaction count on first use, per `spec.md` §4.8.
func (b *Builder) nextNonce(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.init {
		n, err := b.transport.NonceAt(ctx, b.fromAddress)
		if err != nil {
			return 0, arberr.New(arberr.Internal, "txbuilder.nextNonce", err)
		}
		b.nonce = n
		b.init = true
	}

	current := b.nonce
	b.nonce++
	return current, nil
}

// resync re-reads the pending nonce from chain; used after a NonceMismatch.
func (b *Builder) resync(ctx context.Context) error {
	n, err := b.transport.NonceAt(ctx, b.fromAddress)
	if err != nil {
		return arberr.New(arberr.Internal, "txbuilder.resync", err)
	}
	b.mu.Lock()
	b.nonce = n
	b.init = true
	b.mu.Unlock()
	return nil
}

// SignedTx is a built, signed, not-yet-broadcast transaction.
type SignedTx struct {
	Tx    *types.Transaction
	Nonce uint64
}

// BuildArbitrage encodes a call to the on-chain contract's arbitrage entry
// point and signs it with the Gas Oracle's recommended EIP-1559 fields and
// the Accountant's gas limit estimate.
func (b *Builder) BuildArbitrage(ctx context.Context, call ArbitrageCall, maxFeePerGas, maxPriorityFeePerGas *big.Int, gasLimit uint64) (*SignedTx, error) {
	if b.maxGasPriceGwei != nil && toGwei(maxFeePerGas).Cmp(b.maxGasPriceGwei) > 0 {
		return nil, arberr.New(arberr.GasTooHigh, "txbuilder.BuildArbitrage", fmt.Errorf("maxFeePerGas exceeds cap"))
	}

	nonce, err := b.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	data := encodeArbitrageCall(call)

	txData := &types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       gasLimit,
		To:        &b.contractAddress,
		Value:     big.NewInt(0),
		Data:      data,
	}

	signed, err := b.sign(txData)
	if err != nil {
		return nil, arberr.New(arberr.Internal, "txbuilder.BuildArbitrage", err)
	}

	return &SignedTx{Tx: signed, Nonce: nonce}, nil
}

func (b *Builder) sign(txData *types.DynamicFeeTx) (*types.Transaction, error) {
	signer := types.NewLondonSigner(b.chainID)
	tx := types.NewTx(txData)
	return types.SignTx(tx, signer, b.key)
}

// Replace signs a same-nonce replacement transaction with fees scaled by
// multiplier, per `spec.md` §4.8.
func (b *Builder) Replace(ctx context.Context, oldHash common.Hash, multiplier float64) (*SignedTx, error) {
	b.pendingMu.Lock()
	old, ok := b.pending[oldHash]
	b.pendingMu.Unlock()
	if !ok {
		return nil, arberr.New(arberr.Internal, "txbuilder.Replace", fmt.Errorf("unknown pending tx %s", oldHash.Hex()))
	}

	oldTx := new(types.Transaction)
	if err := oldTx.UnmarshalBinary(old.SignedRaw); err != nil {
		return nil, arberr.New(arberr.Internal, "txbuilder.Replace", err)
	}

	scaled := func(v *big.Int) *big.Int {
		f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(multiplier))
		out, _ := f.Int(nil)
		return out
	}

	txData := &types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     old.Nonce,
		GasTipCap: scaled(oldTx.GasTipCap()),
		GasFeeCap: scaled(oldTx.GasFeeCap()),
		Gas:       oldTx.Gas(),
		To:        oldTx.To(),
		Value:     oldTx.Value(),
		Data:      oldTx.Data(),
	}

	if b.maxGasPriceGwei != nil && toGwei(txData.GasFeeCap).Cmp(b.maxGasPriceGwei) > 0 {
		return nil, arberr.New(arberr.GasTooHigh, "txbuilder.Replace", fmt.Errorf("replacement fee exceeds cap"))
	}

	signed, err := b.sign(txData)
	if err != nil {
		return nil, arberr.New(arberr.Internal, "txbuilder.Replace", err)
	}

	return &SignedTx{Tx: signed, Nonce: old.Nonce}, nil
}

// Broadcast submits a signed transaction and records it as pending until its
// receipt or a 60s timeout.
func (b *Builder) Broadcast(ctx context.Context, signed *SignedTx, opp *arb.Opportunity) (common.Hash, error) {
	raw, err := signed.Tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, arberr.New(arberr.Internal, "txbuilder.Broadcast", err)
	}

	if err := b.transport.SendTransaction(ctx, signed.Tx); err != nil {
		return common.Hash{}, arberr.New(arberr.BroadcastFailed, "txbuilder.Broadcast", err)
	}

	hash := signed.Tx.Hash()
	pt := &arb.PendingTx{
		TxHash:      hash,
		Nonce:       signed.Nonce,
		SignedRaw:   raw,
		Opportunity: opp,
		SubmitTime:  time.Now(),
		Outcome:     arb.OutcomePending,
	}

	b.pendingMu.Lock()
	b.pending[hash] = pt
	b.pendingMu.Unlock()

	b.logger.Info("broadcast transaction", zap.String("tx_hash", hash.Hex()), zap.Uint64("nonce", signed.Nonce))
	return hash, nil
}

// AwaitConfirmation polls for the receipt of hash up to a 60s timeout.
func (b *Builder) AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := b.transport.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			b.markOutcome(hash, receiptOutcome(receipt))
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			b.markOutcome(hash, arb.OutcomeTimedOut)
			return nil, arberr.New(arberr.ConfirmationTimeout, "txbuilder.AwaitConfirmation", ctx.Err())
		case <-ticker.C:
		}
	}
}

func receiptOutcome(r *types.Receipt) arb.PendingOutcome {
	if r.Status == types.ReceiptStatusSuccessful {
		return arb.OutcomeConfirmed
	}
	return arb.OutcomeReverted
}

func (b *Builder) markOutcome(hash common.Hash, outcome arb.PendingOutcome) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if pt, ok := b.pending[hash]; ok {
		pt.Outcome = outcome
		if outcome != arb.OutcomePending {
			delete(b.pending, hash)
		}
	}
}

// PendingCount returns the number of in-flight transactions; used by the
// orchestrator's graceful-shutdown bound.
func (b *Builder) PendingCount() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

func toGwei(wei *big.Int) *big.Int {
	if wei == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Div(wei, big.NewInt(1e9))
}

// encodeArbitrageCall ABI-encodes the arbitrage entry point call. The exact
// ABI lives in the on-chain contract, which is an external collaborator
// (`spec.md` §1 Out-of-scope); this produces the selector + packed
// parameters shape the contract expects.
func encodeArbitrageCall(call ArbitrageCall) []byte {
	selector := crypto.Keccak256([]byte("executeArbitrage(address[],uint256[],address[],bytes[],uint256,uint256)"))[:4]

	var packed []byte
	packed = append(packed, selector...)
	for _, t := range call.Tokens {
		packed = append(packed, common.LeftPadBytes(t.Bytes(), 32)...)
	}
	for _, a := range call.Amounts {
		packed = append(packed, common.LeftPadBytes(a.Bytes(), 32)...)
	}
	for _, a := range call.AggregatorAddrs {
		packed = append(packed, common.LeftPadBytes(a.Bytes(), 32)...)
	}
	for _, p := range call.SwapPayloads {
		packed = append(packed, p...)
	}
	packed = append(packed, common.LeftPadBytes(call.FlashLoanAmount.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(call.MinProfit.Bytes(), 32)...)
	return packed
}
