package core

import (
	"fmt"
	"math/big"
	"sync"

	"willvault/core/events"
	"willvault/core/state"
	"willvault/core/types"
	"willvault/core/will"
	nativecommon "willvault/native/common"
	"willvault/native/token"
)

// Node wires the will engine, state manager, token ledgers and event log
// together and serialises every operation. The engine itself is not safe for
// concurrent use; the node's mutex provides the atomic, serial execution the
// engine's invariants assume.
type Node struct {
	mu      sync.Mutex
	state   *state.Manager
	engine  *will.Engine
	tokens  *token.Registry
	emitter *events.MemoryEmitter
}

// NewNode assembles a node over the given state manager.
func NewNode(manager *state.Manager, pauses nativecommon.PauseView) *Node {
	emitter := events.NewMemoryEmitter()
	registry := token.NewRegistry(manager)
	engine := will.NewEngine()
	engine.SetState(manager)
	engine.SetTokens(registry)
	engine.SetEmitter(emitter)
	engine.SetPauses(pauses)
	registry.RegisterReceiver(will.ModuleVaultAddress(), engine)
	return &Node{
		state:   manager,
		engine:  engine,
		tokens:  registry,
		emitter: emitter,
	}
}

// SetNowFunc overrides the engine time source, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

// Tokens exposes the token registry for bootstrap wiring.
func (n *Node) Tokens() *token.Registry { return n.tokens }

// State exposes the state manager for bootstrap wiring.
func (n *Node) State() *state.Manager { return n.state }

// Events returns the recorded event log.
func (n *Node) Events() []*types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.emitter.Events()
}

// Balance returns the native balance of an address.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Faucet credits native balance to an address. Only used by bootstrap and
// development tooling.
func (n *Node) Faucet(addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.credit(addr, amount)
}

func (n *Node) credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("core: credit amount must be positive")
	}
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return n.state.PutAccount(addr[:], account)
}

// GenesisAlloc seeds one account's native balance the first time a data
// directory is used.
type GenesisAlloc struct {
	Address [20]byte
	Balance *big.Int
}

// ApplyGenesis credits the configured allocations exactly once per store.
// Reruns on restart, and runs with no allocations, are no-ops.
func (n *Node) ApplyGenesis(allocs []GenesisAlloc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(allocs) == 0 {
		return nil
	}
	applied, err := n.state.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, alloc := range allocs {
		if err := n.credit(alloc.Address, alloc.Balance); err != nil {
			return err
		}
	}
	return n.state.SetGenesisApplied()
}

// TokenMint issues supply on a registered token ledger. The value is an
// amount for fungible tokens and a token identifier for non-fungible ones.
func (n *Node) TokenMint(tokenAddr, to [20]byte, value *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if fungible, ok := n.tokens.Fungible(tokenAddr); ok {
		return fungible.Mint(to, value)
	}
	if nonFungible, ok := n.tokens.NonFungible(tokenAddr); ok {
		return nonFungible.Mint(to, value)
	}
	return token.ErrUnknownToken
}

// TokenApproveVault grants the escrow vault an allowance to pull fungible
// deposits from the owner.
func (n *Node) TokenApproveVault(owner, tokenAddr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	fungible, ok := n.tokens.Fungible(tokenAddr)
	if !ok {
		return token.ErrUnknownToken
	}
	return fungible.Approve(owner, will.ModuleVaultAddress(), amount)
}

// TokenApproveVaultOperator lets the escrow vault custody the owner's
// non-fungible tokens on deposit.
func (n *Node) TokenApproveVaultOperator(owner, tokenAddr [20]byte, approved bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	nonFungible, ok := n.tokens.NonFungible(tokenAddr)
	if !ok {
		return token.ErrUnknownToken
	}
	return nonFungible.ApproveOperator(owner, will.ModuleVaultAddress(), approved)
}

// TokenBalanceOf reads a fungible balance.
func (n *Node) TokenBalanceOf(tokenAddr, owner [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fungible, ok := n.tokens.Fungible(tokenAddr)
	if !ok {
		return nil, token.ErrUnknownToken
	}
	return fungible.BalanceOf(owner)
}

// TokenOwnerOf reads a non-fungible token's current owner.
func (n *Node) TokenOwnerOf(tokenAddr [20]byte, tokenID *big.Int) ([20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	nonFungible, ok := n.tokens.NonFungible(tokenAddr)
	if !ok {
		return [20]byte{}, token.ErrUnknownToken
	}
	return nonFungible.OwnerOf(tokenID)
}

func (n *Node) WillCreate(grantor [20]byte, interval int64) (*will.Will, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CreateWill(grantor, interval)
}

func (n *Node) WillCheckIn(grantor [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CheckIn(grantor)
}

func (n *Node) WillModifyHeartbeat(grantor [20]byte, interval int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ModifyHeartbeat(grantor, interval)
}

func (n *Node) WillDepositNative(grantor, beneficiary [20]byte, amount *big.Int) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.DepositNative(grantor, beneficiary, amount)
}

func (n *Node) WillDepositFungible(grantor, tokenAddr [20]byte, amount *big.Int, beneficiary [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.DepositFungible(grantor, tokenAddr, amount, beneficiary)
}

func (n *Node) WillDepositNonFungible(grantor, tokenAddr [20]byte, tokenID *big.Int, beneficiary [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.DepositNonFungible(grantor, tokenAddr, tokenID, beneficiary)
}

func (n *Node) WillUpdateBeneficiary(grantor [20]byte, index uint64, beneficiary [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.UpdateBeneficiary(grantor, index, beneficiary)
}

func (n *Node) WillRemoveAsset(grantor [20]byte, index uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.RemoveAsset(grantor, index)
}

func (n *Node) WillApproveContractBeneficiary(grantor, addr [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ApproveContractBeneficiary(grantor, addr)
}

func (n *Node) WillRevokeContractBeneficiary(grantor, addr [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.RevokeContractBeneficiary(grantor, addr)
}

func (n *Node) WillAcceptBeneficiary(caller, grantor [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AcceptBeneficiary(caller, grantor)
}

func (n *Node) WillRejectBeneficiary(caller, grantor [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.RejectBeneficiary(caller, grantor)
}

func (n *Node) WillClaimAsset(caller, grantor [20]byte, index uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ClaimAsset(caller, grantor, index)
}

func (n *Node) WillEmergencyWithdraw(grantor [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.EmergencyWithdraw(grantor)
}

func (n *Node) WillUpdateState(grantor [20]byte) (will.Status, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.UpdateState(grantor)
}

func (n *Node) WillIsClaimable(grantor [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.IsClaimable(grantor)
}

func (n *Node) WillGet(grantor [20]byte) (*will.Will, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetWill(grantor)
}

func (n *Node) WillGetAsset(grantor [20]byte, index uint64) (*will.Asset, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetAsset(grantor, index)
}

func (n *Node) WillGetAssetCount(grantor [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetAssetCount(grantor)
}

func (n *Node) WillBeneficiaryAssets(grantor, beneficiary [20]byte) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetBeneficiaryAssets(grantor, beneficiary)
}

func (n *Node) WillIsApprovedBeneficiary(grantor, candidate [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.IsApprovedBeneficiary(grantor, candidate)
}
