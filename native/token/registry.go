package token

import (
	"willvault/core/will"
)

// Registry resolves token contract addresses to their ledger implementations.
// It satisfies the will engine's TokenRegistry interface.
type Registry struct {
	state        LedgerState
	fungibles    map[[20]byte]*Fungible
	nonFungibles map[[20]byte]*NonFungible
	receivers    map[[20]byte]NonFungibleReceiver
}

// NewRegistry creates an empty registry over the given ledger state.
func NewRegistry(state LedgerState) *Registry {
	return &Registry{
		state:        state,
		fungibles:    make(map[[20]byte]*Fungible),
		nonFungibles: make(map[[20]byte]*NonFungible),
		receivers:    make(map[[20]byte]NonFungibleReceiver),
	}
}

// RegisterFungible installs a fungible token ledger under the given contract
// address and returns it for minting and approvals.
func (r *Registry) RegisterFungible(addr [20]byte, symbol string) *Fungible {
	tok := &Fungible{addr: addr, symbol: symbol, state: r.state}
	r.fungibles[addr] = tok
	return tok
}

// RegisterNonFungible installs a non-fungible token ledger under the given
// contract address. Receiver hooks registered on the registry are shared by
// every non-fungible token.
func (r *Registry) RegisterNonFungible(addr [20]byte, symbol string) *NonFungible {
	tok := &NonFungible{addr: addr, symbol: symbol, state: r.state, receivers: r.receivers}
	r.nonFungibles[addr] = tok
	return tok
}

// RegisterReceiver binds a safe-transfer receiver hook to an address.
func (r *Registry) RegisterReceiver(addr [20]byte, recv NonFungibleReceiver) {
	r.receivers[addr] = recv
}

// Fungible returns the registered fungible ledger for minting and approvals.
func (r *Registry) Fungible(addr [20]byte) (*Fungible, bool) {
	tok, ok := r.fungibles[addr]
	return tok, ok
}

// NonFungible returns the registered non-fungible ledger.
func (r *Registry) NonFungible(addr [20]byte) (*NonFungible, bool) {
	tok, ok := r.nonFungibles[addr]
	return tok, ok
}

// FungibleToken implements will.TokenRegistry.
func (r *Registry) FungibleToken(addr [20]byte) (will.FungibleToken, bool) {
	tok, ok := r.fungibles[addr]
	if !ok {
		return nil, false
	}
	return tok, true
}

// NonFungibleToken implements will.TokenRegistry.
func (r *Registry) NonFungibleToken(addr [20]byte) (will.NonFungibleToken, bool) {
	tok, ok := r.nonFungibles[addr]
	if !ok {
		return nil, false
	}
	return tok, true
}
