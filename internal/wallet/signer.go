// Package wallet supplies per-owner transaction signers.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Provider returns the signer that acts for an order owner.
type Provider interface {
	SignerFor(ownerID string) (*chain.Signer, error)
}

// EnvProvider loads hex-encoded private keys from environment variables, one
// variable per owner. Keys are parsed lazily and kept in memory only as
// go-ethereum transactors.
type EnvProvider struct {
	chainID *big.Int
	vars    map[string]string // owner id -> env var name
	lookup  func(string) (string, bool)

	mu      sync.Mutex
	signers map[string]*chain.Signer
}

// NewEnvProvider maps each owner id to the environment variable holding its key.
func NewEnvProvider(chainID *big.Int, ownerKeyVars map[string]string) *EnvProvider {
	vars := make(map[string]string, len(ownerKeyVars))
	for owner, v := range ownerKeyVars {
		vars[owner] = v
	}
	return &EnvProvider{
		chainID: chainID,
		vars:    vars,
		lookup:  os.LookupEnv,
		signers: make(map[string]*chain.Signer),
	}
}

func (p *EnvProvider) SignerFor(ownerID string) (*chain.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.signers[ownerID]; ok {
		return s, nil
	}

	name, ok := p.vars[ownerID]
	if !ok {
		return nil, types.ErrUnauthorized.Wrapf("no signing key configured for owner %s", ownerID)
	}
	raw, ok := p.lookup(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("signing key for owner %s: environment variable %s is not set", ownerID, name)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signing key for owner %s: %w", ownerID, err)
	}

	s, err := newSigner(key, p.chainID)
	if err != nil {
		return nil, err
	}
	p.signers[ownerID] = s
	return s, nil
}

func newSigner(key *ecdsa.PrivateKey, chainID *big.Int) (*chain.Signer, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return chain.NewSigner(opts), nil
}

// Static serves fixed signers, keyed by owner id.
type Static map[string]*chain.Signer

func (s Static) SignerFor(ownerID string) (*chain.Signer, error) {
	signer, ok := s[ownerID]
	if !ok {
		return nil, types.ErrUnauthorized.Wrapf("no signer for owner %s", ownerID)
	}
	return signer, nil
}
