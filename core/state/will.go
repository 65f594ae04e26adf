package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"willvault/core/will"
)

var (
	willRecordPrefix     = []byte("will:")
	willBeneficiaryIndex = []byte("will-beneficiary:")
	willConsentPrefix    = []byte("will-consent:")
	willApprovalPrefix   = []byte("will-approval:")
	willNFTPrefix        = []byte("will-nft:")
	willVaultPrefix      = []byte("will-vault:")
)

func willKey(grantor [20]byte) []byte {
	return prefixedKey(willRecordPrefix, grantor[:])
}

func beneficiaryIndexKey(grantor, beneficiary [20]byte) []byte {
	return prefixedKey(willBeneficiaryIndex, grantor[:], beneficiary[:])
}

func consentKey(grantor, beneficiary [20]byte) []byte {
	return prefixedKey(willConsentPrefix, grantor[:], beneficiary[:])
}

func approvalKey(grantor, beneficiary [20]byte) []byte {
	return prefixedKey(willApprovalPrefix, grantor[:], beneficiary[:])
}

func nftDepositKey(grantor, token [20]byte, tokenID *big.Int) []byte {
	id := big.NewInt(0)
	if tokenID != nil {
		id = tokenID
	}
	return prefixedKey(willNFTPrefix, grantor[:], token[:], id.Bytes())
}

func vaultKey(grantor [20]byte) []byte {
	return prefixedKey(willVaultPrefix, grantor[:])
}

type storedAsset struct {
	Kind          uint8
	TokenContract [20]byte
	TokenID       *big.Int
	Amount        *big.Int
	Beneficiary   [20]byte
	Claimed       bool
}

type storedWill struct {
	Grantor           [20]byte
	LastCheckIn       *big.Int
	HeartbeatInterval *big.Int
	Status            uint8
	Assets            []storedAsset
	UnclaimedCount    uint64
	CreatedAt         *big.Int
}

func newStoredWill(w *will.Will) *storedWill {
	assets := make([]storedAsset, len(w.Assets))
	for i := range w.Assets {
		a := w.Assets[i].Clone()
		assets[i] = storedAsset{
			Kind:          uint8(a.Kind),
			TokenContract: a.TokenContract,
			TokenID:       a.TokenID,
			Amount:        a.Amount,
			Beneficiary:   a.Beneficiary,
			Claimed:       a.Claimed,
		}
	}
	return &storedWill{
		Grantor:           w.Grantor,
		LastCheckIn:       big.NewInt(w.LastCheckIn),
		HeartbeatInterval: big.NewInt(w.HeartbeatInterval),
		Status:            uint8(w.Status),
		Assets:            assets,
		UnclaimedCount:    w.UnclaimedCount,
		CreatedAt:         big.NewInt(w.CreatedAt),
	}
}

func (s *storedWill) toWill() (*will.Will, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil will record")
	}
	out := &will.Will{
		Grantor:        s.Grantor,
		Status:         will.Status(s.Status),
		UnclaimedCount: s.UnclaimedCount,
		Assets:         make([]will.Asset, len(s.Assets)),
	}
	if s.LastCheckIn != nil {
		out.LastCheckIn = s.LastCheckIn.Int64()
	}
	if s.HeartbeatInterval != nil {
		out.HeartbeatInterval = s.HeartbeatInterval.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	for i := range s.Assets {
		a := s.Assets[i]
		out.Assets[i] = will.Asset{
			Kind:          will.AssetKind(a.Kind),
			TokenContract: a.TokenContract,
			TokenID:       a.TokenID,
			Amount:        a.Amount,
			Beneficiary:   a.Beneficiary,
			Claimed:       a.Claimed,
		}
	}
	return will.SanitizeWill(out)
}

// WillPut validates and persists a will record.
func (m *Manager) WillPut(w *will.Will) error {
	sanitized, err := will.SanitizeWill(w)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredWill(sanitized))
	if err != nil {
		return err
	}
	return m.store.Put(willKey(sanitized.Grantor), encoded)
}

// WillGet loads the grantor's will, if any.
func (m *Manager) WillGet(grantor [20]byte) (*will.Will, bool) {
	data, err := m.load(willKey(grantor))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedWill)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toWill()
	if err != nil {
		return nil, false
	}
	return record, true
}

func (m *Manager) loadBeneficiaryIndex(key []byte) ([]uint64, error) {
	data, err := m.load(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []uint64{}, nil
	}
	var indices []uint64
	if err := rlp.DecodeBytes(data, &indices); err != nil {
		return nil, err
	}
	return indices, nil
}

func (m *Manager) writeBeneficiaryIndex(key []byte, indices []uint64) error {
	encoded, err := rlp.EncodeToBytes(indices)
	if err != nil {
		return err
	}
	return m.store.Put(key, encoded)
}

// BeneficiaryIndexAppend records that the asset index is designated to the
// beneficiary.
func (m *Manager) BeneficiaryIndexAppend(grantor, beneficiary [20]byte, index uint64) error {
	key := beneficiaryIndexKey(grantor, beneficiary)
	indices, err := m.loadBeneficiaryIndex(key)
	if err != nil {
		return err
	}
	for _, existing := range indices {
		if existing == index {
			return nil
		}
	}
	return m.writeBeneficiaryIndex(key, append(indices, index))
}

// BeneficiaryIndexRemove drops one asset index from the beneficiary's
// designation list, used when an asset is reassigned.
func (m *Manager) BeneficiaryIndexRemove(grantor, beneficiary [20]byte, index uint64) error {
	key := beneficiaryIndexKey(grantor, beneficiary)
	indices, err := m.loadBeneficiaryIndex(key)
	if err != nil {
		return err
	}
	filtered := indices[:0]
	for _, existing := range indices {
		if existing != index {
			filtered = append(filtered, existing)
		}
	}
	return m.writeBeneficiaryIndex(key, filtered)
}

// BeneficiaryAssets returns the asset indices designated to the beneficiary.
func (m *Manager) BeneficiaryAssets(grantor, beneficiary [20]byte) ([]uint64, error) {
	return m.loadBeneficiaryIndex(beneficiaryIndexKey(grantor, beneficiary))
}

// ConsentSetAccepted stores the beneficiary's acceptance flag for a grantor.
func (m *Manager) ConsentSetAccepted(grantor, beneficiary [20]byte, accepted bool) error {
	return m.writeBool(consentKey(grantor, beneficiary), accepted)
}

// ConsentAccepted reads the beneficiary's acceptance flag for a grantor.
func (m *Manager) ConsentAccepted(grantor, beneficiary [20]byte) (bool, error) {
	return m.loadBool(consentKey(grantor, beneficiary))
}

// ContractApprovalSet stores the grantor's allow-list flag for a contract
// beneficiary.
func (m *Manager) ContractApprovalSet(grantor, beneficiary [20]byte, approved bool) error {
	return m.writeBool(approvalKey(grantor, beneficiary), approved)
}

// ContractApproved reads the grantor's allow-list flag for a contract
// beneficiary.
func (m *Manager) ContractApproved(grantor, beneficiary [20]byte) (bool, error) {
	return m.loadBool(approvalKey(grantor, beneficiary))
}

// NFTDepositMark flags a non-fungible token as escrowed by the grantor.
func (m *Manager) NFTDepositMark(grantor, token [20]byte, tokenID *big.Int) error {
	return m.writeBool(nftDepositKey(grantor, token, tokenID), true)
}

// NFTDepositClear removes the escrow flag, permitting re-deposit.
func (m *Manager) NFTDepositClear(grantor, token [20]byte, tokenID *big.Int) error {
	return m.writeBool(nftDepositKey(grantor, token, tokenID), false)
}

// NFTDeposited reports whether the token is currently escrowed by the
// grantor.
func (m *Manager) NFTDeposited(grantor, token [20]byte, tokenID *big.Int) (bool, error) {
	return m.loadBool(nftDepositKey(grantor, token, tokenID))
}

// VaultCredit pulls native value from the grantor's account into the module
// vault and raises the grantor's custody tally.
func (m *Manager) VaultCredit(grantor [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: vault credit must be positive")
	}
	if err := m.transferBalance(grantor, will.ModuleVaultAddress(), amount); err != nil {
		return err
	}
	tally, err := m.loadBigInt(vaultKey(grantor))
	if err != nil {
		return err
	}
	if err := m.writeBigInt(vaultKey(grantor), new(big.Int).Add(tally, amount)); err != nil {
		// Undo the balance move so custody accounting stays consistent.
		if restoreErr := m.transferBalance(will.ModuleVaultAddress(), grantor, amount); restoreErr != nil {
			return fmt.Errorf("state: vault credit rollback failed: %v (original: %w)", restoreErr, err)
		}
		return err
	}
	return nil
}

// VaultDebit pays native value out of the module vault to the recipient,
// lowering the grantor's custody tally. Paying out more than the grantor has
// in custody fails without touching balances.
func (m *Manager) VaultDebit(grantor, recipient [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: vault debit must be positive")
	}
	tally, err := m.loadBigInt(vaultKey(grantor))
	if err != nil {
		return err
	}
	if tally.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := m.transferBalance(will.ModuleVaultAddress(), recipient, amount); err != nil {
		return err
	}
	if err := m.writeBigInt(vaultKey(grantor), new(big.Int).Sub(tally, amount)); err != nil {
		if restoreErr := m.transferBalance(recipient, will.ModuleVaultAddress(), amount); restoreErr != nil {
			return fmt.Errorf("state: vault debit rollback failed: %v (original: %w)", restoreErr, err)
		}
		return err
	}
	return nil
}

// VaultBalance returns the native value currently custodied for the grantor.
func (m *Manager) VaultBalance(grantor [20]byte) (*big.Int, error) {
	return m.loadBigInt(vaultKey(grantor))
}
