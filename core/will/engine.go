package will

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"willvault/core/events"
	nativecommon "willvault/native/common"
)

const moduleName = "will"

var errNilState = errors.New("will engine: state not configured")

// engineState is the narrow persistence surface the engine mutates. The state
// manager in core/state implements it over the trie-style keccak-keyed store;
// tests implement it over plain maps.
type engineState interface {
	WillPut(*Will) error
	WillGet(grantor [20]byte) (*Will, bool)

	BeneficiaryIndexAppend(grantor, beneficiary [20]byte, index uint64) error
	BeneficiaryIndexRemove(grantor, beneficiary [20]byte, index uint64) error
	BeneficiaryAssets(grantor, beneficiary [20]byte) ([]uint64, error)

	ConsentSetAccepted(grantor, beneficiary [20]byte, accepted bool) error
	ConsentAccepted(grantor, beneficiary [20]byte) (bool, error)
	ContractApprovalSet(grantor, beneficiary [20]byte, approved bool) error
	ContractApproved(grantor, beneficiary [20]byte) (bool, error)

	NFTDepositMark(grantor, token [20]byte, tokenID *big.Int) error
	NFTDepositClear(grantor, token [20]byte, tokenID *big.Int) error
	NFTDeposited(grantor, token [20]byte, tokenID *big.Int) (bool, error)

	VaultCredit(grantor [20]byte, amount *big.Int) error
	VaultDebit(grantor, recipient [20]byte, amount *big.Int) error
	VaultBalance(grantor [20]byte) (*big.Int, error)

	IsContract(addr [20]byte) bool
}

// Engine drives the per-grantor will state machine: lifecycle transitions,
// the heterogeneous asset ledger, beneficiary consent, and the failure-safe
// withdrawal paths. All mutations go through the configured state backend and
// every success path emits exactly one event.
type Engine struct {
	state   engineState
	tokens  TokenRegistry
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64

	// entered guards the two entry points that both mutate shared counters
	// and call out to token contracts whose hooks may call back in.
	entered bool
}

// NewEngine creates a will engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the registry resolving token contract addresses.
func (e *Engine) SetTokens(tokens TokenRegistry) { e.tokens = tokens }

// SetPauses configures the pause view guarding mutating entry points.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) guard() error {
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() { e.entered = false }

func (e *Engine) loadWill(grantor [20]byte) (*Will, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	w, ok := e.state.WillGet(grantor)
	if !ok {
		return nil, ErrWillNotFound
	}
	return w, nil
}

func (e *Engine) storeWill(w *Will) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.WillPut(w)
}

// materializeClaimable advances a lapsed ACTIVE will to CLAIMABLE. It is
// idempotent and a no-op for wills that are not yet past their deadline or
// already CLAIMABLE/COMPLETED.
func (e *Engine) materializeClaimable(w *Will) error {
	if w.Status != StatusActive || e.now() < w.Deadline() {
		return nil
	}
	w.Status = StatusClaimable
	if err := e.storeWill(w); err != nil {
		return err
	}
	e.emit(claimableEvent{will: w})
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// isApprovedBeneficiary resolves the consent gate for a candidate identity:
// contract accounts need the grantor's explicit allow-listing, externally
// owned accounts are implicitly approved unless they are the null identity.
func (e *Engine) isApprovedBeneficiary(grantor, candidate [20]byte) (bool, error) {
	if candidate == ([20]byte{}) {
		return false, nil
	}
	if e.state.IsContract(candidate) {
		return e.state.ContractApproved(grantor, candidate)
	}
	return true, nil
}

func (e *Engine) validateBeneficiary(grantor, beneficiary [20]byte) error {
	if beneficiary == ([20]byte{}) {
		return ErrNullBeneficiary
	}
	approved, err := e.isApprovedBeneficiary(grantor, beneficiary)
	if err != nil {
		return err
	}
	if !approved {
		return ErrContractNotApproved
	}
	return nil
}

// CreateWill registers a new will for the grantor with the given heartbeat
// interval in seconds. Each grantor owns at most one will.
func (e *Engine) CreateWill(grantor [20]byte, interval int64) (*Will, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if interval < MinHeartbeatInterval {
		return nil, ErrIntervalTooShort
	}
	if _, ok := e.state.WillGet(grantor); ok {
		return nil, ErrWillExists
	}
	now := e.now()
	w := &Will{
		Grantor:           grantor,
		LastCheckIn:       now,
		HeartbeatInterval: interval,
		Status:            StatusActive,
		CreatedAt:         now,
	}
	if err := e.storeWill(w); err != nil {
		return nil, err
	}
	e.emit(createdEvent{will: w})
	return w.Clone(), nil
}

// CheckIn resets the grantor's liveness anchor to the current time. Only
// valid while the cached state is still ACTIVE.
func (e *Engine) CheckIn(grantor [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	w, err := e.loadWill(grantor)
	if err != nil {
		return err
	}
	if w.Status != StatusActive {
		return ErrWillNotActive
	}
	w.LastCheckIn = e.now()
	if err := e.storeWill(w); err != nil {
		return err
	}
	e.emit(checkInEvent{will: w})
	return nil
}

// ModifyHeartbeat changes the heartbeat interval. Increasing the interval
// keeps the liveness anchor, pushing the deadline out. Decreasing it resets
// the anchor to now so the grantor cannot shorten the interval below the
// already-elapsed time and make their own will instantly claimable.
func (e *Engine) ModifyHeartbeat(grantor [20]byte, newInterval int64) error {
	if err := e.guard(); err != nil {
		return err
	}
	w, err := e.loadWill(grantor)
	if err != nil {
		return err
	}
	if w.Status != StatusActive {
		return ErrWillNotActive
	}
	if newInterval < MinHeartbeatInterval {
		return ErrIntervalTooShort
	}
	if newInterval == w.HeartbeatInterval {
		return ErrIntervalUnchanged
	}
	oldInterval := w.HeartbeatInterval
	if newInterval < oldInterval {
		w.LastCheckIn = e.now()
	}
	w.HeartbeatInterval = newInterval
	if err := e.storeWill(w); err != nil {
		return err
	}
	e.emit(heartbeatUpdatedEvent{will: w, oldInterval: oldInterval})
	return nil
}

// DepositNative escrows native currency for the beneficiary, pulling the
// amount from the grantor's account into the module vault. Returns the
// permanent index of the new ledger entry.
func (e *Engine) DepositNative(grantor, beneficiary [20]byte, amount *big.Int) (uint64, error) {
	asset := Asset{
		Kind:        AssetNative,
		TokenID:     big.NewInt(0),
		Amount:      cloneBigInt(amount),
		Beneficiary: beneficiary,
	}
	return e.deposit(grantor, asset)
}

// DepositFungible escrows fungible tokens for the beneficiary, pulling them
// from the grantor via the token's allowance mechanism.
func (e *Engine) DepositFungible(grantor, token [20]byte, amount *big.Int, beneficiary [20]byte) (uint64, error) {
	asset := Asset{
		Kind:          AssetFungible,
		TokenContract: token,
		TokenID:       big.NewInt(0),
		Amount:        cloneBigInt(amount),
		Beneficiary:   beneficiary,
	}
	return e.deposit(grantor, asset)
}

// DepositNonFungible escrows a single non-fungible token for the beneficiary.
// The grantor must currently own the token and the same token cannot be
// escrowed twice concurrently.
func (e *Engine) DepositNonFungible(grantor, token [20]byte, tokenID *big.Int, beneficiary [20]byte) (uint64, error) {
	asset := Asset{
		Kind:          AssetNonFungible,
		TokenContract: token,
		TokenID:       cloneBigInt(tokenID),
		Amount:        big.NewInt(1),
		Beneficiary:   beneficiary,
	}
	return e.deposit(grantor, asset)
}

func (e *Engine) deposit(grantor [20]byte, asset Asset) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := e.guard(); err != nil {
		return 0, err
	}
	w, err := e.loadWill(grantor)
	if err != nil {
		return 0, err
	}
	if w.Status != StatusActive {
		return 0, ErrWillNotActive
	}
	if err := e.validateBeneficiary(grantor, asset.Beneficiary); err != nil {
		return 0, err
	}
	switch asset.Kind {
	case AssetNative:
		if asset.Amount.Sign() <= 0 {
			return 0, ErrZeroAmount
		}
	case AssetFungible:
		if asset.Amount.Sign() <= 0 {
			return 0, ErrZeroAmount
		}
		if err := e.validateTokenContract(asset.TokenContract); err != nil {
			return 0, err
		}
	case AssetNonFungible:
		if err := e.validateTokenContract(asset.TokenContract); err != nil {
			return 0, err
		}
		nft, ok := e.tokenNonFungible(asset.TokenContract)
		if !ok {
			return 0, ErrNotTokenContract
		}
		owner, err := nft.OwnerOf(asset.TokenID)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if owner != grantor {
			return 0, ErrNotTokenOwner
		}
		deposited, err := e.state.NFTDeposited(grantor, asset.TokenContract, asset.TokenID)
		if err != nil {
			return 0, err
		}
		if deposited {
			return 0, ErrDuplicateNFT
		}
	default:
		return 0, fmt.Errorf("will: invalid asset kind %d", asset.Kind)
	}

	original := w.Clone()
	index := uint64(len(w.Assets))
	w.Assets = append(w.Assets, asset)
	w.UnclaimedCount++
	if err := e.storeWill(w); err != nil {
		return 0, err
	}
	if err := e.state.BeneficiaryIndexAppend(grantor, asset.Beneficiary, index); err != nil {
		_ = e.storeWill(original)
		return 0, err
	}
	if asset.Kind == AssetNonFungible {
		if err := e.state.NFTDepositMark(grantor, asset.TokenContract, asset.TokenID); err != nil {
			_ = e.state.BeneficiaryIndexRemove(grantor, asset.Beneficiary, index)
			_ = e.storeWill(original)
			return 0, err
		}
	}
	if err := e.custodyPull(grantor, &asset); err != nil {
		if asset.Kind == AssetNonFungible {
			_ = e.state.NFTDepositClear(grantor, asset.TokenContract, asset.TokenID)
		}
		_ = e.state.BeneficiaryIndexRemove(grantor, asset.Beneficiary, index)
		_ = e.storeWill(original)
		return 0, err
	}
	e.emit(assetDepositedEvent{will: w, index: index, asset: &w.Assets[index]})
	return index, nil
}

// UpdateBeneficiary reassigns an unclaimed asset to a new beneficiary. The new
// beneficiary does not inherit the previous one's acceptance; they must accept
// independently before claiming.
func (e *Engine) UpdateBeneficiary(grantor [20]byte, index uint64, newBeneficiary [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	w, err := e.loadWill(grantor)
	if err != nil {
		return err
	}
	if w.Status != StatusActive {
		return ErrWillNotActive
	}
	if index >= uint64(len(w.Assets)) {
		return ErrAssetOutOfRange
	}
	asset := &w.Assets[index]
	if asset.Claimed {
		return ErrAssetClaimed
	}
	if asset.Beneficiary == newBeneficiary {
		return ErrSameBeneficiary
	}
	if err := e.validateBeneficiary(grantor, newBeneficiary); err != nil {
		return err
	}
	previous := asset.Beneficiary
	asset.Beneficiary = newBeneficiary
	if err := e.storeWill(w); err != nil {
		return err
	}
	if err := e.state.BeneficiaryIndexRemove(grantor, previous, index); err != nil {
		return err
	}
	if err := e.state.BeneficiaryIndexAppend(grantor, newBeneficiary, index); err != nil {
		return err
	}
	e.emit(beneficiaryUpdatedEvent{will: w, index: index, previous: previous, current: newBeneficiary})
	return nil
}

// RemoveAsset returns a single unclaimed asset to the grantor while the will
// is still ACTIVE. The ledger entry stays in place with its claimed flag set;
// the will never completes through removal.
func (e *Engine) RemoveAsset(grantor [20]byte, index uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	w, err := e.loadWill(grantor)
	if err != nil {
		return err
	}
	if w.Status != StatusActive {
		return ErrWillNotActive
	}
	if index >= uint64(len(w.Assets)) {
		return ErrAssetOutOfRange
	}
	asset := &w.Assets[index]
	if asset.Claimed {
		return ErrAssetClaimed
	}
	asset.Claimed = true
	w.UnclaimedCount--
	if err := e.storeWill(w); err != nil {
		return err
	}
	if asset.Kind == AssetNonFungible {
		if err := e.state.NFTDepositClear(grantor, asset.TokenContract, asset.TokenID); err != nil {
			asset.Claimed = false
			w.UnclaimedCount++
			_ = e.storeWill(w)
			return err
		}
	}
	if err := e.payout(grantor, grantor, asset); err != nil {
		asset.Claimed = false
		w.UnclaimedCount++
		_ = e.storeWill(w)
		if asset.Kind == AssetNonFungible {
			_ = e.state.NFTDepositMark(grantor, asset.TokenContract, asset.TokenID)
		}
		return err
	}
	e.emit(assetRemovedEvent{will: w, index: index, asset: asset})
	return nil
}

// ApproveContractBeneficiary allow-lists a contract account so future deposits
// and reassignments may designate it.
func (e *Engine) ApproveContractBeneficiary(grantor, addr [20]byte) error {
	return e.setContractApproval(grantor, addr, true)
}

// RevokeContractBeneficiary removes a contract account from the allow-list.
// Revocation only blocks future deposits; assets already designated stay.
func (e *Engine) RevokeContractBeneficiary(grantor, addr [20]byte) error {
	return e.setContractApproval(grantor, addr, false)
}

func (e *Engine) setContractApproval(grantor, addr [20]byte, approved bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(); err != nil {
		return err
	}
	if _, err := e.loadWill(grantor); err != nil {
		return err
	}
	if addr == ([20]byte{}) {
		return ErrNullBeneficiary
	}
	if !e.state.IsContract(addr) {
		return ErrNotContract
	}
	if err := e.state.ContractApprovalSet(grantor, addr, approved); err != nil {
		return err
	}
	e.emit(contractApprovalEvent{grantor: grantor, beneficiary: addr, approved: approved})
	return nil
}

// AcceptBeneficiary records the caller's consent to receive assets from the
// grantor. The caller must currently be designated on at least one asset and
// the flag covers all current and future assets from that grantor.
func (e *Engine) AcceptBeneficiary(caller, grantor [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireDesignated(caller, grantor); err != nil {
		return err
	}
	accepted, err := e.state.ConsentAccepted(grantor, caller)
	if err != nil {
		return err
	}
	if accepted {
		return ErrAlreadyAccepted
	}
	if err := e.state.ConsentSetAccepted(grantor, caller, true); err != nil {
		return err
	}
	e.emit(consentEvent{grantor: grantor, beneficiary: caller, accepted: true})
	return nil
}

// RejectBeneficiary withdraws the caller's consent. Rejecting is idempotent.
func (e *Engine) RejectBeneficiary(caller, grantor [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireDesignated(caller, grantor); err != nil {
		return err
	}
	if err := e.state.ConsentSetAccepted(grantor, caller, false); err != nil {
		return err
	}
	e.emit(consentEvent{grantor: grantor, beneficiary: caller, accepted: false})
	return nil
}

func (e *Engine) requireDesignated(caller, grantor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, err := e.loadWill(grantor); err != nil {
		return err
	}
	indices, err := e.state.BeneficiaryAssets(grantor, caller)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		return ErrNotDesignated
	}
	return nil
}

// ClaimAsset transfers one claimable asset to its designated, consenting
// beneficiary. The claimed flag and counter are persisted before the token
// transfer is issued so a transfer hook calling back in observes the asset as
// already claimed.
func (e *Engine) ClaimAsset(caller, grantor [20]byte, index uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	w, err := e.loadWill(grantor)
	if err != nil {
		return err
	}
	if w.Status == StatusCompleted {
		return ErrWillCompleted
	}
	if err := e.materializeClaimable(w); err != nil {
		return err
	}
	if w.Status != StatusClaimable {
		return ErrWillNotClaimable
	}
	if index >= uint64(len(w.Assets)) {
		return ErrAssetOutOfRange
	}
	asset := &w.Assets[index]
	if asset.Beneficiary != caller {
		return ErrNotBeneficiary
	}
	if asset.Claimed {
		return ErrAssetClaimed
	}
	accepted, err := e.state.ConsentAccepted(grantor, caller)
	if err != nil {
		return err
	}
	if !accepted {
		return ErrNotAccepted
	}

	asset.Claimed = true
	w.UnclaimedCount--
	if err := e.storeWill(w); err != nil {
		return err
	}
	if asset.Kind == AssetNonFungible {
		if err := e.state.NFTDepositClear(grantor, asset.TokenContract, asset.TokenID); err != nil {
			asset.Claimed = false
			w.UnclaimedCount++
			_ = e.storeWill(w)
			return err
		}
	}
	if err := e.payout(grantor, caller, asset); err != nil {
		asset.Claimed = false
		w.UnclaimedCount++
		_ = e.storeWill(w)
		if asset.Kind == AssetNonFungible {
			_ = e.state.NFTDepositMark(grantor, asset.TokenContract, asset.TokenID)
		}
		return err
	}
	e.emit(assetClaimedEvent{will: w, index: index, asset: asset})

	if w.UnclaimedCount == 0 && len(w.Assets) > 0 {
		w.Status = StatusCompleted
		if err := e.storeWill(w); err != nil {
			return err
		}
		e.emit(completedEvent{will: w})
	}
	return nil
}

// EmergencyWithdraw returns every unclaimed asset to the grantor and completes
// the will. It is blocked the instant the live claimability predicate holds,
// even before UpdateState materializes CLAIMABLE, so a grantor can never race
// a lapsed deadline against an entitled beneficiary.
func (e *Engine) EmergencyWithdraw(grantor [20]byte) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.exit()

	w, err := e.loadWill(grantor)
	if err != nil {
		return 0, err
	}
	if w.Status == StatusCompleted {
		return 0, ErrWillCompleted
	}
	if w.ClaimableAt(e.now()) {
		return 0, ErrWillClaimable
	}

	target := w.UnclaimedCount
	returned := uint64(0)
	for i := 0; i < len(w.Assets) && returned < target; i++ {
		asset := &w.Assets[i]
		if asset.Claimed {
			continue
		}
		asset.Claimed = true
		w.UnclaimedCount--
		if err := e.storeWill(w); err != nil {
			return returned, err
		}
		if asset.Kind == AssetNonFungible {
			if err := e.state.NFTDepositClear(grantor, asset.TokenContract, asset.TokenID); err != nil {
				asset.Claimed = false
				w.UnclaimedCount++
				_ = e.storeWill(w)
				return returned, err
			}
		}
		if err := e.payout(grantor, grantor, asset); err != nil {
			asset.Claimed = false
			w.UnclaimedCount++
			_ = e.storeWill(w)
			if asset.Kind == AssetNonFungible {
				_ = e.state.NFTDepositMark(grantor, asset.TokenContract, asset.TokenID)
			}
			return returned, err
		}
		returned++
	}
	w.Status = StatusCompleted
	if err := e.storeWill(w); err != nil {
		return returned, err
	}
	e.emit(emergencyWithdrawnEvent{will: w, returned: returned})
	return returned, nil
}

// UpdateState lazily advances a lapsed ACTIVE will to CLAIMABLE. Anyone may
// call it; it is idempotent and a no-op for CLAIMABLE or COMPLETED wills.
func (e *Engine) UpdateState(grantor [20]byte) (Status, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	w, err := e.loadWill(grantor)
	if err != nil {
		return 0, err
	}
	if err := e.materializeClaimable(w); err != nil {
		return 0, err
	}
	return w.Status, nil
}

// IsClaimable evaluates the live claimability predicate without mutating
// state.
func (e *Engine) IsClaimable(grantor [20]byte) (bool, error) {
	w, err := e.loadWill(grantor)
	if err != nil {
		return false, err
	}
	return w.ClaimableAt(e.now()), nil
}

// GetWill returns a deep copy of the grantor's will.
func (e *Engine) GetWill(grantor [20]byte) (*Will, error) {
	w, err := e.loadWill(grantor)
	if err != nil {
		return nil, err
	}
	return w.Clone(), nil
}

// GetAsset returns a copy of one ledger entry. Claimed entries remain
// readable; indices and history are permanent.
func (e *Engine) GetAsset(grantor [20]byte, index uint64) (*Asset, error) {
	w, err := e.loadWill(grantor)
	if err != nil {
		return nil, err
	}
	if index >= uint64(len(w.Assets)) {
		return nil, ErrAssetOutOfRange
	}
	return w.Assets[index].Clone(), nil
}

// GetAssetCount returns the total number of ledger entries, claimed included.
func (e *Engine) GetAssetCount(grantor [20]byte) (uint64, error) {
	w, err := e.loadWill(grantor)
	if err != nil {
		return 0, err
	}
	return uint64(len(w.Assets)), nil
}

// GetBeneficiaryAssets returns the asset indices designated to a beneficiary.
func (e *Engine) GetBeneficiaryAssets(grantor, beneficiary [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadWill(grantor); err != nil {
		return nil, err
	}
	return e.state.BeneficiaryAssets(grantor, beneficiary)
}

// IsApprovedBeneficiary reports whether a candidate could be designated by
// the grantor right now.
func (e *Engine) IsApprovedBeneficiary(grantor, candidate [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.isApprovedBeneficiary(grantor, candidate)
}
