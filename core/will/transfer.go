package will

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// FungibleToken is the surface the engine consumes from a fungible token
// contract: balance query, allowance query and allowance-based pull transfer,
// plus an owner-initiated transfer for paying custody back out.
type FungibleToken interface {
	BalanceOf(owner [20]byte) (*big.Int, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
}

// NonFungibleToken is the surface the engine consumes from a non-fungible
// token contract. SafeTransferFrom may invoke a receiver hook on the
// destination before returning.
type NonFungibleToken interface {
	OwnerOf(tokenID *big.Int) ([20]byte, error)
	SafeTransferFrom(caller, from, to [20]byte, tokenID *big.Int) error
}

// TokenRegistry resolves token contract addresses to their implementations.
type TokenRegistry interface {
	FungibleToken(addr [20]byte) (FungibleToken, bool)
	NonFungibleToken(addr [20]byte) (NonFungibleToken, bool)
}

var moduleVault = func() [20]byte {
	hash := ethcrypto.Keccak256([]byte("willvault/module/vault"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}()

// ModuleVaultAddress is the custody identity under which the engine holds
// escrowed fungible and non-fungible tokens.
func ModuleVaultAddress() [20]byte { return moduleVault }

// NonFungibleReceivedSelector is the acknowledgement value the receiver hook
// returns to accept an incoming non-fungible transfer.
var NonFungibleReceivedSelector = [4]byte{0x15, 0x0b, 0x7a, 0x02}

// OnNonFungibleReceived is the engine's receiver hook for incoming
// non-fungible transfers. It is a pure accept with no side effects.
func (e *Engine) OnNonFungibleReceived(operator, from [20]byte, tokenID *big.Int, data []byte) ([4]byte, error) {
	return NonFungibleReceivedSelector, nil
}

func (e *Engine) tokenFungible(addr [20]byte) (FungibleToken, bool) {
	if e == nil || e.tokens == nil {
		return nil, false
	}
	return e.tokens.FungibleToken(addr)
}

func (e *Engine) tokenNonFungible(addr [20]byte) (NonFungibleToken, bool) {
	if e == nil || e.tokens == nil {
		return nil, false
	}
	return e.tokens.NonFungibleToken(addr)
}

func (e *Engine) validateTokenContract(addr [20]byte) error {
	if addr == ([20]byte{}) {
		return ErrNullToken
	}
	if !e.state.IsContract(addr) {
		return ErrNotTokenContract
	}
	return nil
}

// custodyPull moves the asset from the grantor into the module's custody:
// native value into the vault balance, fungible tokens via the allowance
// pull, non-fungible tokens via an ownership transfer to the vault.
func (e *Engine) custodyPull(grantor [20]byte, asset *Asset) error {
	switch asset.Kind {
	case AssetNative:
		if err := e.state.VaultCredit(grantor, asset.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	case AssetFungible:
		tok, ok := e.tokenFungible(asset.TokenContract)
		if !ok {
			return ErrNotTokenContract
		}
		if err := tok.TransferFrom(moduleVault, grantor, moduleVault, asset.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	case AssetNonFungible:
		tok, ok := e.tokenNonFungible(asset.TokenContract)
		if !ok {
			return ErrNotTokenContract
		}
		if err := tok.SafeTransferFrom(moduleVault, grantor, moduleVault, asset.TokenID); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	default:
		return fmt.Errorf("will: invalid asset kind %d", asset.Kind)
	}
}

// payout moves a custodied asset out to the recipient, dispatching on the
// asset kind. Ledger effects must already be persisted before calling.
func (e *Engine) payout(grantor, recipient [20]byte, asset *Asset) error {
	switch asset.Kind {
	case AssetNative:
		if err := e.state.VaultDebit(grantor, recipient, asset.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	case AssetFungible:
		tok, ok := e.tokenFungible(asset.TokenContract)
		if !ok {
			return ErrNotTokenContract
		}
		if err := tok.Transfer(moduleVault, recipient, asset.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	case AssetNonFungible:
		tok, ok := e.tokenNonFungible(asset.TokenContract)
		if !ok {
			return ErrNotTokenContract
		}
		if err := tok.SafeTransferFrom(moduleVault, moduleVault, recipient, asset.TokenID); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	default:
		return fmt.Errorf("will: invalid asset kind %d", asset.Kind)
	}
}
