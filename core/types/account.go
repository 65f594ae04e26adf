package types

import "math/big"

// Account captures the on-state record for a single address: its native
// balance plus the code hash and storage root that distinguish contract
// accounts from externally-owned ones.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	Balance     *big.Int `json:"balance"`
	CodeHash    []byte   `json:"codeHash"`
	StorageRoot []byte   `json:"storageRoot"`
}
