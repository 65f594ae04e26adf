package state

import (
	"errors"
	"fmt"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"willvault/core/types"
	"willvault/storage"
)

var ErrInsufficientBalance = errors.New("state: insufficient balance")

var (
	accountPrefix = []byte("account:")
	genesisPrefix = []byte("genesis:")
)

// Manager reads and writes all service state as RLP records under
// keccak-hashed keys in the backing key-value store. It is not safe for
// concurrent use; callers serialise access.
type Manager struct {
	store storage.Database
}

// NewManager creates a state manager operating on the provided store.
func NewManager(store storage.Database) *Manager {
	return &Manager{store: store}
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

// load fetches a raw record, mapping a missing key to a nil value.
func (m *Manager) load(key []byte) ([]byte, error) {
	data, err := m.store.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.load(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative value")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.store.Put(key, encoded)
}

func (m *Manager) loadBool(key []byte) (bool, error) {
	data, err := m.load(key)
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

func (m *Manager) writeBool(key []byte, value bool) error {
	b := byte(0)
	if value {
		b = 1
	}
	return m.store.Put(key, []byte{b})
}

type storedAccount struct {
	Nonce       uint64
	Balance     *big.Int
	CodeHash    []byte
	StorageRoot []byte
}

func ensureAccountDefaults(account *types.Account) {
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	if len(account.CodeHash) == 0 {
		account.CodeHash = gethtypes.EmptyCodeHash.Bytes()
	}
	if len(account.StorageRoot) == 0 {
		account.StorageRoot = gethtypes.EmptyRootHash.Bytes()
	}
}

func accountKey(addr []byte) []byte {
	return prefixedKey(accountPrefix, addr)
}

// GetAccount reconstructs the account stored under the provided address. A
// never-seen address yields a fresh zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	data, err := m.load(accountKey(addr))
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if len(data) > 0 {
		stored := new(storedAccount)
		if err := rlp.DecodeBytes(data, stored); err != nil {
			return nil, err
		}
		account.Nonce = stored.Nonce
		account.Balance = stored.Balance
		account.CodeHash = stored.CodeHash
		account.StorageRoot = stored.StorageRoot
	}
	ensureAccountDefaults(account)
	return account, nil
}

// PutAccount persists the account under the provided address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	ensureAccountDefaults(account)
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	stored := &storedAccount{
		Nonce:       account.Nonce,
		Balance:     account.Balance,
		CodeHash:    account.CodeHash,
		StorageRoot: account.StorageRoot,
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.store.Put(accountKey(addr), encoded)
}

func genesisAppliedKey() []byte {
	return prefixedKey(genesisPrefix, []byte("applied"))
}

// GenesisApplied reports whether the one-time genesis allocation already ran
// against this store.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.loadBool(genesisAppliedKey())
}

// SetGenesisApplied seals the genesis allocation so restarts do not credit it
// again.
func (m *Manager) SetGenesisApplied() error {
	return m.writeBool(genesisAppliedKey(), true)
}

// MarkContract flags an address as a contract account by giving it a
// non-empty code hash derived from the address itself.
func (m *Manager) MarkContract(addr [20]byte) error {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.CodeHash = ethcrypto.Keccak256(addr[:])
	return m.PutAccount(addr[:], account)
}

// IsContract reports whether the address carries deployed code. Unknown
// addresses are externally owned.
func (m *Manager) IsContract(addr [20]byte) bool {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return false
	}
	return len(account.CodeHash) > 0 && !equalBytes(account.CodeHash, gethtypes.EmptyCodeHash.Bytes())
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// transferBalance moves native value between two accounts, restoring the
// source account if persisting the destination fails.
func (m *Manager) transferBalance(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	originalFrom := new(big.Int).Set(fromAcc.Balance)
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := m.PutAccount(to[:], toAcc); err != nil {
		fromAcc.Balance = originalFrom
		if restoreErr := m.PutAccount(from[:], fromAcc); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender: %w", restoreErr))
		}
		return err
	}
	return nil
}
