// Package token provides the fungible and non-fungible token collaborators
// the will engine escrows. Both ledgers persist through the same state
// backend as the rest of the service, so custody survives restarts.
package token

import (
	"bytes"
	"errors"
	"math/big"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token contract")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMinted             = errors.New("token: token not minted")
	ErrNotOwner              = errors.New("token: caller is not owner or operator")
	ErrReceiverRejected      = errors.New("token: receiver rejected transfer")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
)

// LedgerState is the persistence surface token ledgers operate on.
type LedgerState interface {
	TokenBalance(token, owner [20]byte) (*big.Int, error)
	TokenBalanceSet(token, owner [20]byte, amount *big.Int) error
	TokenAllowance(token, owner, spender [20]byte) (*big.Int, error)
	TokenAllowanceSet(token, owner, spender [20]byte, amount *big.Int) error
	TokenOperator(token, owner, operator [20]byte) (bool, error)
	TokenOperatorSet(token, owner, operator [20]byte, approved bool) error
	NFTOwner(token [20]byte, tokenID *big.Int) ([20]byte, bool, error)
	NFTOwnerSet(token [20]byte, tokenID *big.Int, owner [20]byte) error
}

// NonFungibleReceiver is the hook invoked when a non-fungible token is safely
// transferred to a registered receiver. The returned selector must match
// ReceivedSelector or the transfer fails.
type NonFungibleReceiver interface {
	OnNonFungibleReceived(operator, from [20]byte, tokenID *big.Int, data []byte) ([4]byte, error)
}

// ReceivedSelector is the acknowledgement a receiver returns to accept an
// incoming non-fungible transfer.
var ReceivedSelector = [4]byte{0x15, 0x0b, 0x7a, 0x02}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Fungible is an allowance-based fungible token ledger.
type Fungible struct {
	addr   [20]byte
	symbol string
	state  LedgerState
}

// Symbol returns the token's display symbol.
func (f *Fungible) Symbol() string { return f.symbol }

// Address returns the token's contract address.
func (f *Fungible) Address() [20]byte { return f.addr }

func (f *Fungible) BalanceOf(owner [20]byte) (*big.Int, error) {
	return f.state.TokenBalance(f.addr, owner)
}

func (f *Fungible) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return f.state.TokenAllowance(f.addr, owner, spender)
}

// Approve sets the allowance the spender may pull from the owner.
func (f *Fungible) Approve(owner, spender [20]byte, amount *big.Int) error {
	return f.state.TokenAllowanceSet(f.addr, owner, spender, cloneBigInt(amount))
}

// Mint credits freshly issued tokens to the recipient.
func (f *Fungible) Mint(to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := f.state.TokenBalance(f.addr, to)
	if err != nil {
		return err
	}
	return f.state.TokenBalanceSet(f.addr, to, new(big.Int).Add(balance, amt))
}

// Transfer moves tokens the caller owns.
func (f *Fungible) Transfer(from, to [20]byte, amount *big.Int) error {
	return f.move(from, to, cloneBigInt(amount))
}

// TransferFrom pulls tokens from the owner using the spender's allowance.
// A spender pulling from itself needs no allowance.
func (f *Fungible) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if spender != from {
		allowance, err := f.state.TokenAllowance(f.addr, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amt) < 0 {
			return ErrInsufficientAllowance
		}
		if err := f.state.TokenAllowanceSet(f.addr, from, spender, new(big.Int).Sub(allowance, amt)); err != nil {
			return err
		}
	}
	return f.move(from, to, amt)
}

func (f *Fungible) move(from, to [20]byte, amt *big.Int) error {
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBal, err := f.state.TokenBalance(f.addr, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := f.state.TokenBalance(f.addr, to)
	if err != nil {
		return err
	}
	if err := f.state.TokenBalanceSet(f.addr, from, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return f.state.TokenBalanceSet(f.addr, to, new(big.Int).Add(toBal, amt))
}

// NonFungible is an ownership-tracking non-fungible token ledger with
// operator approvals and a safe-transfer receiver hook.
type NonFungible struct {
	addr      [20]byte
	symbol    string
	state     LedgerState
	receivers map[[20]byte]NonFungibleReceiver
}

// Symbol returns the token's display symbol.
func (n *NonFungible) Symbol() string { return n.symbol }

// Address returns the token's contract address.
func (n *NonFungible) Address() [20]byte { return n.addr }

func (n *NonFungible) OwnerOf(tokenID *big.Int) ([20]byte, error) {
	owner, ok, err := n.state.NFTOwner(n.addr, cloneBigInt(tokenID))
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, ErrNotMinted
	}
	return owner, nil
}

// Mint issues a new token to the recipient.
func (n *NonFungible) Mint(to [20]byte, tokenID *big.Int) error {
	id := cloneBigInt(tokenID)
	if _, ok, err := n.state.NFTOwner(n.addr, id); err != nil {
		return err
	} else if ok {
		return errors.New("token: token already minted")
	}
	return n.state.NFTOwnerSet(n.addr, id, to)
}

// ApproveOperator lets the operator move any of the owner's tokens.
func (n *NonFungible) ApproveOperator(owner, operator [20]byte, approved bool) error {
	return n.state.TokenOperatorSet(n.addr, owner, operator, approved)
}

// SafeTransferFrom moves a token, authorising the caller as owner or approved
// operator, and dispatches the receiver hook when the destination registered
// one.
func (n *NonFungible) SafeTransferFrom(caller, from, to [20]byte, tokenID *big.Int) error {
	id := cloneBigInt(tokenID)
	owner, ok, err := n.state.NFTOwner(n.addr, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMinted
	}
	if owner != from {
		return ErrNotOwner
	}
	if caller != owner {
		approved, err := n.state.TokenOperator(n.addr, owner, caller)
		if err != nil {
			return err
		}
		if !approved {
			return ErrNotOwner
		}
	}
	if err := n.state.NFTOwnerSet(n.addr, id, to); err != nil {
		return err
	}
	if recv, ok := n.receivers[to]; ok {
		selector, err := recv.OnNonFungibleReceived(caller, from, id, nil)
		if err != nil {
			// Hand the token back before surfacing the rejection.
			_ = n.state.NFTOwnerSet(n.addr, id, from)
			return err
		}
		if !bytes.Equal(selector[:], ReceivedSelector[:]) {
			_ = n.state.NFTOwnerSet(n.addr, id, from)
			return ErrReceiverRejected
		}
	}
	return nil
}
