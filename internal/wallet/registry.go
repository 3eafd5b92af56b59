package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/nonce"
)

// Wallet is one derived key pair. Immutable after derivation; the registry owns
// it, everything else holds a reference.
type Wallet struct {
	Label   string
	Index   uint32
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// NonceSeeder fetches the authoritative starting nonce for an address, usually
// eth_getTransactionCount(pending). Called once per address, lazily.
type NonceSeeder func(ctx context.Context, addr common.Address) (uint64, error)

// Registry derives wallets at m/44'/60'/0'/0/index and tracks one nonce
// manager per derived address. Derivation is a pure function of (seed, index):
// re-running the tool reconstructs the same wallet set, which resume depends on.
type Registry struct {
	master *hdkeychain.ExtendedKey
	seeder NonceSeeder

	mu      sync.Mutex
	wallets map[uint32]*Wallet
	nonces  map[common.Address]*nonce.Manager
}

func NewRegistry(mnemonic string, seeder NonceSeeder) (*Registry, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, fmt.Errorf("seed phrase required")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("seed phrase failed BIP39 checksum")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	return &Registry{
		master:  master,
		seeder:  seeder,
		wallets: make(map[uint32]*Wallet),
		nonces:  make(map[common.Address]*nonce.Manager),
	}, nil
}

// Wallet returns the wallet at the given BIP44 index, deriving it on first use.
// Repeated calls with the same index return the same wallet.
func (r *Registry) Wallet(index uint32) (*Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.walletLocked(index)
}

func (r *Registry) walletLocked(index uint32) (*Wallet, error) {
	if w, ok := r.wallets[index]; ok {
		return w, nil
	}

	key, err := r.deriveKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive wallet %d: %w", index, err)
	}

	w := &Wallet{
		Label:   fmt.Sprintf("satellite-%d", index),
		Index:   index,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}
	r.wallets[index] = w
	return w, nil
}

// DeriveWallets derives count wallets at indices startIndex..startIndex+count-1.
func (r *Registry) DeriveWallets(count, startIndex uint32) ([]*Wallet, error) {
	if count == 0 {
		return nil, fmt.Errorf("wallet count must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Wallet, 0, count)
	for i := uint32(0); i < count; i++ {
		w, err := r.walletLocked(startIndex + i)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// deriveKey walks m/44'/60'/0'/0/index.
func (r *Registry) deriveKey(index uint32) (*ecdsa.PrivateKey, error) {
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}

	key := r.master
	for _, step := range path {
		child, err := key.Derive(step)
		if err != nil {
			return nil, err
		}
		key = child
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

func (r *Registry) managerFor(ctx context.Context, addr common.Address) (*nonce.Manager, error) {
	r.mu.Lock()
	if m, ok := r.nonces[addr]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	var start uint64
	if r.seeder != nil {
		n, err := r.seeder(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("seed nonce for %s: %w", addr.Hex(), err)
		}
		start = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have seeded while we were on the network.
	if m, ok := r.nonces[addr]; ok {
		return m, nil
	}
	m := nonce.NewManager(start)
	r.nonces[addr] = m
	return m, nil
}

// NextNonce issues the next nonce for addr, seeding from the chain on first use.
func (r *Registry) NextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	m, err := r.managerFor(ctx, addr)
	if err != nil {
		return 0, err
	}
	return m.Next(), nil
}

func (r *Registry) MarkNonceUsed(addr common.Address, n uint64) {
	r.mu.Lock()
	m := r.nonces[addr]
	r.mu.Unlock()
	if m != nil {
		m.MarkUsed(n)
	}
}

func (r *Registry) MarkNonceFailed(addr common.Address, n uint64) {
	r.mu.Lock()
	m := r.nonces[addr]
	r.mu.Unlock()
	if m != nil {
		m.MarkFailed(n)
	}
}

// ResetNonce force-reinitializes addr's manager from an observed on-chain
// nonce. Recovery path; see cmd/unstick.
func (r *Registry) ResetNonce(addr common.Address, n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.nonces[addr]; ok {
		m.Reset(n)
		return
	}
	r.nonces[addr] = nonce.NewManager(n)
}
