package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// Wallet holds the bot's signing keypair.
type Wallet struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// NewWallet creates a wallet from a base58-encoded private key.
//
// SECURITY WARNING: this accepts a private key as a plain string. Load it
// from an environment variable or a secret manager, never commit it.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	var privateKey ed25519.PrivateKey
	switch len(privateKeyBytes) {
	case 64:
		privateKey = ed25519.PrivateKey(privateKeyBytes)
	case 32:
		privateKey = ed25519.NewKeyFromSeed(privateKeyBytes)
	default:
		return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64)", len(privateKeyBytes))
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	address := base58.Encode(publicKey)
	log.Info().Str("address", address).Msg("wallet loaded")

	return &Wallet{privateKey: privateKey, publicKey: publicKey, address: address}, nil
}

// Address returns the wallet's base58-encoded public key.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the raw public key bytes.
func (w *Wallet) PublicKey() []byte {
	return w.publicKey
}

// Sign signs message with the wallet's private key.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.privateKey, message)
}

// BalanceTracker maintains a cached view of the wallet's base-asset
// balance, refreshed from RPC or pushed directly by a subscription.
type BalanceTracker struct {
	mu              sync.RWMutex
	wallet          *Wallet
	rpc             *Client
	balanceLamports uint64
}

// NewBalanceTracker creates a tracker for wallet, reading from rpc.
func NewBalanceTracker(wallet *Wallet, rpc *Client) *BalanceTracker {
	return &BalanceTracker{wallet: wallet, rpc: rpc}
}

// Refresh re-reads the balance from RPC.
func (b *BalanceTracker) Refresh(ctx context.Context) error {
	balance, err := b.rpc.GetBalance(ctx, b.wallet.Address())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.balanceLamports = balance
	b.mu.Unlock()
	return nil
}

// BalanceLamports returns the last-known balance in lamports.
func (b *BalanceTracker) BalanceLamports() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceLamports
}

// SetBalance overwrites the cached balance, used when a subscription
// reports it directly.
func (b *BalanceTracker) SetBalance(lamports uint64) {
	b.mu.Lock()
	b.balanceLamports = lamports
	b.mu.Unlock()
}

// HasSufficientBalance reports whether amountLamports + feesLamports fit
// within the tracked balance.
func (b *BalanceTracker) HasSufficientBalance(amountLamports, feesLamports uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceLamports >= amountLamports+feesLamports
}
