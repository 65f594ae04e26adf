package state

import (
	"math/big"
)

var (
	tokenBalancePrefix   = []byte("token-balance:")
	tokenAllowancePrefix = []byte("token-allowance:")
	tokenOperatorPrefix  = []byte("token-operator:")
	tokenNFTOwnerPrefix  = []byte("token-nft-owner:")
)

func tokenBalanceKey(token, owner [20]byte) []byte {
	return prefixedKey(tokenBalancePrefix, token[:], owner[:])
}

func tokenAllowanceKey(token, owner, spender [20]byte) []byte {
	return prefixedKey(tokenAllowancePrefix, token[:], owner[:], spender[:])
}

func tokenOperatorKey(token, owner, operator [20]byte) []byte {
	return prefixedKey(tokenOperatorPrefix, token[:], owner[:], operator[:])
}

func tokenNFTOwnerKey(token [20]byte, tokenID *big.Int) []byte {
	id := big.NewInt(0)
	if tokenID != nil {
		id = tokenID
	}
	return prefixedKey(tokenNFTOwnerPrefix, token[:], id.Bytes())
}

// TokenBalance returns the fungible balance an owner holds in a token.
func (m *Manager) TokenBalance(token, owner [20]byte) (*big.Int, error) {
	return m.loadBigInt(tokenBalanceKey(token, owner))
}

// TokenBalanceSet overwrites the fungible balance an owner holds in a token.
func (m *Manager) TokenBalanceSet(token, owner [20]byte, amount *big.Int) error {
	return m.writeBigInt(tokenBalanceKey(token, owner), amount)
}

// TokenAllowance returns the amount a spender may pull from an owner.
func (m *Manager) TokenAllowance(token, owner, spender [20]byte) (*big.Int, error) {
	return m.loadBigInt(tokenAllowanceKey(token, owner, spender))
}

// TokenAllowanceSet overwrites a spender's allowance.
func (m *Manager) TokenAllowanceSet(token, owner, spender [20]byte, amount *big.Int) error {
	return m.writeBigInt(tokenAllowanceKey(token, owner, spender), amount)
}

// TokenOperator reports whether an operator may move any of the owner's
// non-fungible tokens.
func (m *Manager) TokenOperator(token, owner, operator [20]byte) (bool, error) {
	return m.loadBool(tokenOperatorKey(token, owner, operator))
}

// TokenOperatorSet stores an operator approval.
func (m *Manager) TokenOperatorSet(token, owner, operator [20]byte, approved bool) error {
	return m.writeBool(tokenOperatorKey(token, owner, operator), approved)
}

// NFTOwner returns the owner of a non-fungible token, reporting absence for
// unminted tokens.
func (m *Manager) NFTOwner(token [20]byte, tokenID *big.Int) ([20]byte, bool, error) {
	data, err := m.load(tokenNFTOwnerKey(token, tokenID))
	if err != nil {
		return [20]byte{}, false, err
	}
	if len(data) != 20 {
		return [20]byte{}, false, nil
	}
	var owner [20]byte
	copy(owner[:], data)
	return owner, true, nil
}

// NFTOwnerSet records the owner of a non-fungible token.
func (m *Manager) NFTOwnerSet(token [20]byte, tokenID *big.Int, owner [20]byte) error {
	return m.store.Put(tokenNFTOwnerKey(token, tokenID), owner[:])
}
