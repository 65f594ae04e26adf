package will

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"willvault/core/events"
	nativecommon "willvault/native/common"
)

type mockState struct {
	wills     map[[20]byte]*Will
	benIndex  map[string][]uint64
	consent   map[string]bool
	approvals map[string]bool
	nftDep    map[string]bool
	balances  map[[20]byte]*big.Int
	vault     map[[20]byte]*big.Int
	contracts map[[20]byte]bool
}

func newMockState() *mockState {
	return &mockState{
		wills:     make(map[[20]byte]*Will),
		benIndex:  make(map[string][]uint64),
		consent:   make(map[string]bool),
		approvals: make(map[string]bool),
		nftDep:    make(map[string]bool),
		balances:  make(map[[20]byte]*big.Int),
		vault:     make(map[[20]byte]*big.Int),
		contracts: make(map[[20]byte]bool),
	}
}

func pairKey(a, b [20]byte) string {
	return string(a[:]) + "|" + string(b[:])
}

func nftKey(grantor, token [20]byte, tokenID *big.Int) string {
	return string(grantor[:]) + "|" + string(token[:]) + "|" + tokenID.String()
}

func (m *mockState) WillPut(w *Will) error {
	if w == nil {
		return fmt.Errorf("nil will")
	}
	sanitized, err := SanitizeWill(w)
	if err != nil {
		return err
	}
	m.wills[sanitized.Grantor] = sanitized.Clone()
	return nil
}

func (m *mockState) WillGet(grantor [20]byte) (*Will, bool) {
	w, ok := m.wills[grantor]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

func (m *mockState) BeneficiaryIndexAppend(grantor, beneficiary [20]byte, index uint64) error {
	key := pairKey(grantor, beneficiary)
	for _, existing := range m.benIndex[key] {
		if existing == index {
			return nil
		}
	}
	m.benIndex[key] = append(m.benIndex[key], index)
	return nil
}

func (m *mockState) BeneficiaryIndexRemove(grantor, beneficiary [20]byte, index uint64) error {
	key := pairKey(grantor, beneficiary)
	kept := m.benIndex[key][:0]
	for _, existing := range m.benIndex[key] {
		if existing != index {
			kept = append(kept, existing)
		}
	}
	m.benIndex[key] = kept
	return nil
}

func (m *mockState) BeneficiaryAssets(grantor, beneficiary [20]byte) ([]uint64, error) {
	return append([]uint64(nil), m.benIndex[pairKey(grantor, beneficiary)]...), nil
}

func (m *mockState) ConsentSetAccepted(grantor, beneficiary [20]byte, accepted bool) error {
	m.consent[pairKey(grantor, beneficiary)] = accepted
	return nil
}

func (m *mockState) ConsentAccepted(grantor, beneficiary [20]byte) (bool, error) {
	return m.consent[pairKey(grantor, beneficiary)], nil
}

func (m *mockState) ContractApprovalSet(grantor, beneficiary [20]byte, approved bool) error {
	m.approvals[pairKey(grantor, beneficiary)] = approved
	return nil
}

func (m *mockState) ContractApproved(grantor, beneficiary [20]byte) (bool, error) {
	return m.approvals[pairKey(grantor, beneficiary)], nil
}

func (m *mockState) NFTDepositMark(grantor, token [20]byte, tokenID *big.Int) error {
	m.nftDep[nftKey(grantor, token, tokenID)] = true
	return nil
}

func (m *mockState) NFTDepositClear(grantor, token [20]byte, tokenID *big.Int) error {
	delete(m.nftDep, nftKey(grantor, token, tokenID))
	return nil
}

func (m *mockState) NFTDeposited(grantor, token [20]byte, tokenID *big.Int) (bool, error) {
	return m.nftDep[nftKey(grantor, token, tokenID)], nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return b
	}
	b := big.NewInt(0)
	m.balances[addr] = b
	return b
}

func (m *mockState) VaultCredit(grantor [20]byte, amount *big.Int) error {
	bal := m.balance(grantor)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	bal.Sub(bal, amount)
	tally, ok := m.vault[grantor]
	if !ok {
		tally = big.NewInt(0)
		m.vault[grantor] = tally
	}
	tally.Add(tally, amount)
	return nil
}

func (m *mockState) VaultDebit(grantor, recipient [20]byte, amount *big.Int) error {
	tally, ok := m.vault[grantor]
	if !ok || tally.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient vault balance")
	}
	tally.Sub(tally, amount)
	m.balance(recipient).Add(m.balance(recipient), amount)
	return nil
}

func (m *mockState) VaultBalance(grantor [20]byte) (*big.Int, error) {
	if tally, ok := m.vault[grantor]; ok {
		return new(big.Int).Set(tally), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) IsContract(addr [20]byte) bool {
	return m.contracts[addr]
}

type mockFungible struct {
	balances   map[[20]byte]*big.Int
	allowances map[string]*big.Int
}

func newMockFungible() *mockFungible {
	return &mockFungible{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (t *mockFungible) mint(addr [20]byte, amount int64) {
	t.balances[addr] = big.NewInt(amount)
}

func (t *mockFungible) approve(owner, spender [20]byte, amount int64) {
	t.allowances[pairKey(owner, spender)] = big.NewInt(amount)
}

func (t *mockFungible) BalanceOf(owner [20]byte) (*big.Int, error) {
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (t *mockFungible) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if a, ok := t.allowances[pairKey(owner, spender)]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

func (t *mockFungible) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if spender != from {
		allowance, ok := t.allowances[pairKey(from, spender)]
		if !ok || allowance.Cmp(amount) < 0 {
			return fmt.Errorf("allowance exceeded")
		}
		allowance.Sub(allowance, amount)
	}
	return t.Transfer(from, to, amount)
}

func (t *mockFungible) Transfer(from, to [20]byte, amount *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient token balance")
	}
	bal.Sub(bal, amount)
	dest, ok := t.balances[to]
	if !ok {
		dest = big.NewInt(0)
		t.balances[to] = dest
	}
	dest.Add(dest, amount)
	return nil
}

type mockNFT struct {
	owners map[string][20]byte

	// onPayout runs during a transfer out of the vault, simulating a
	// receiver hook calling back into the engine.
	onPayout func() error
}

func newMockNFT() *mockNFT {
	return &mockNFT{owners: make(map[string][20]byte)}
}

func (t *mockNFT) mint(owner [20]byte, tokenID int64) {
	t.owners[big.NewInt(tokenID).String()] = owner
}

func (t *mockNFT) OwnerOf(tokenID *big.Int) ([20]byte, error) {
	owner, ok := t.owners[tokenID.String()]
	if !ok {
		return [20]byte{}, fmt.Errorf("token not minted")
	}
	return owner, nil
}

func (t *mockNFT) SafeTransferFrom(caller, from, to [20]byte, tokenID *big.Int) error {
	owner, ok := t.owners[tokenID.String()]
	if !ok || owner != from {
		return fmt.Errorf("transfer from non-owner")
	}
	if t.onPayout != nil && from == ModuleVaultAddress() {
		if err := t.onPayout(); err != nil {
			return err
		}
	}
	t.owners[tokenID.String()] = to
	return nil
}

type mockRegistry struct {
	fungibles    map[[20]byte]FungibleToken
	nonFungibles map[[20]byte]NonFungibleToken
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		fungibles:    make(map[[20]byte]FungibleToken),
		nonFungibles: make(map[[20]byte]NonFungibleToken),
	}
}

func (r *mockRegistry) FungibleToken(addr [20]byte) (FungibleToken, bool) {
	tok, ok := r.fungibles[addr]
	return tok, ok
}

func (r *mockRegistry) NonFungibleToken(addr [20]byte) (NonFungibleToken, bool) {
	tok, ok := r.nonFungibles[addr]
	return tok, ok
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type testClock struct {
	now int64
}

func (c *testClock) advance(d int64) { c.now += d }

func newTestEngine() (*Engine, *mockState, *mockRegistry, *events.MemoryEmitter, *testClock) {
	state := newMockState()
	registry := newMockRegistry()
	emitter := events.NewMemoryEmitter()
	clock := &testClock{now: 1_000_000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetTokens(registry)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return clock.now })
	return engine, state, registry, emitter, clock
}

func lastEventType(t *testing.T, emitter *events.MemoryEmitter) string {
	t.Helper()
	recorded := emitter.Events()
	if len(recorded) == 0 {
		t.Fatalf("expected at least one event")
	}
	return recorded[len(recorded)-1].Type
}

func TestCreateWill(t *testing.T) {
	engine, state, _, emitter, clock := newTestEngine()
	grantor := newTestAddress(0x01)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval-1); !errors.Is(err, ErrIntervalTooShort) {
		t.Fatalf("expected interval error, got %v", err)
	}

	created, err := engine.CreateWill(grantor, MinHeartbeatInterval)
	if err != nil {
		t.Fatalf("create will: %v", err)
	}
	if created.Status != StatusActive {
		t.Fatalf("expected active status, got %v", created.Status)
	}
	if created.LastCheckIn != clock.now || created.CreatedAt != clock.now {
		t.Fatalf("unexpected timestamps: %+v", created)
	}
	if got := lastEventType(t, emitter); got != EventTypeWillCreated {
		t.Fatalf("unexpected event type %q", got)
	}

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); !errors.Is(err, ErrWillExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, ok := state.wills[grantor]; !ok {
		t.Fatalf("will not persisted")
	}
}

func TestCheckInResetsAnchor(t *testing.T) {
	engine, _, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)

	if err := engine.CheckIn(grantor); !errors.Is(err, ErrWillNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	clock.advance(MinHeartbeatInterval / 2)
	if err := engine.CheckIn(grantor); err != nil {
		t.Fatalf("check in: %v", err)
	}
	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.LastCheckIn != clock.now {
		t.Fatalf("anchor not reset: got %d want %d", w.LastCheckIn, clock.now)
	}
}

func TestCheckInAfterLapseStillActive(t *testing.T) {
	engine, _, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	// The deadline has passed but nothing has materialized CLAIMABLE, so the
	// cached state is still ACTIVE and the grantor may revive the will.
	clock.advance(MinHeartbeatInterval * 2)
	if err := engine.CheckIn(grantor); err != nil {
		t.Fatalf("check in on lapsed will: %v", err)
	}
	claimable, err := engine.IsClaimable(grantor)
	if err != nil {
		t.Fatalf("is claimable: %v", err)
	}
	if claimable {
		t.Fatalf("will should not be claimable after revival")
	}
}

func TestModifyHeartbeat(t *testing.T) {
	engine, _, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)

	if _, err := engine.CreateWill(grantor, 2*MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	anchor := clock.now

	if err := engine.ModifyHeartbeat(grantor, MinHeartbeatInterval-1); !errors.Is(err, ErrIntervalTooShort) {
		t.Fatalf("expected interval error, got %v", err)
	}
	if err := engine.ModifyHeartbeat(grantor, 2*MinHeartbeatInterval); !errors.Is(err, ErrIntervalUnchanged) {
		t.Fatalf("expected unchanged error, got %v", err)
	}

	clock.advance(1000)
	if err := engine.ModifyHeartbeat(grantor, 3*MinHeartbeatInterval); err != nil {
		t.Fatalf("increase interval: %v", err)
	}
	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.LastCheckIn != anchor {
		t.Fatalf("increase must keep anchor: got %d want %d", w.LastCheckIn, anchor)
	}

	clock.advance(1000)
	if err := engine.ModifyHeartbeat(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("decrease interval: %v", err)
	}
	w, err = engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.LastCheckIn != clock.now {
		t.Fatalf("decrease must reset anchor: got %d want %d", w.LastCheckIn, clock.now)
	}
	if w.Deadline() != clock.now+MinHeartbeatInterval {
		t.Fatalf("unexpected deadline %d", w.Deadline())
	}
}

func TestDepositNative(t *testing.T) {
	engine, state, _, emitter, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}

	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount error, got %v", err)
	}
	if _, err := engine.DepositNative(grantor, [20]byte{}, big.NewInt(100)); !errors.Is(err, ErrNullBeneficiary) {
		t.Fatalf("expected null beneficiary error, got %v", err)
	}

	// No balance yet: the custody pull fails and the ledger entry rolls back.
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if count, _ := engine.GetAssetCount(grantor); count != 0 {
		t.Fatalf("rolled-back deposit left %d ledger entries", count)
	}
	if indices, _ := engine.GetBeneficiaryAssets(grantor, beneficiary); len(indices) != 0 {
		t.Fatalf("rolled-back deposit left beneficiary index %v", indices)
	}

	state.balances[grantor] = big.NewInt(1000)
	index, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100))
	if err != nil {
		t.Fatalf("deposit native: %v", err)
	}
	if index != 0 {
		t.Fatalf("unexpected index %d", index)
	}
	if got := state.balances[grantor].Int64(); got != 900 {
		t.Fatalf("grantor balance not debited: %d", got)
	}
	vault, _ := state.VaultBalance(grantor)
	if vault.Int64() != 100 {
		t.Fatalf("vault not credited: %d", vault.Int64())
	}
	if got := lastEventType(t, emitter); got != EventTypeAssetDeposited {
		t.Fatalf("unexpected event type %q", got)
	}
	indices, _ := engine.GetBeneficiaryAssets(grantor, beneficiary)
	if len(indices) != 1 || indices[0] != 0 {
		t.Fatalf("unexpected beneficiary index %v", indices)
	}
}

func TestDepositFungibleAllowancePull(t *testing.T) {
	engine, state, registry, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	tok := newMockFungible()
	tok.mint(grantor, 500)
	registry.fungibles[tokenAddr] = tok
	state.contracts[tokenAddr] = true

	// No allowance granted to the module vault yet.
	if _, err := engine.DepositFungible(grantor, tokenAddr, big.NewInt(200), beneficiary); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if count, _ := engine.GetAssetCount(grantor); count != 0 {
		t.Fatalf("failed pull left %d ledger entries", count)
	}

	tok.approve(grantor, ModuleVaultAddress(), 200)
	index, err := engine.DepositFungible(grantor, tokenAddr, big.NewInt(200), beneficiary)
	if err != nil {
		t.Fatalf("deposit fungible: %v", err)
	}
	if index != 0 {
		t.Fatalf("unexpected index %d", index)
	}
	vaultBal, _ := tok.BalanceOf(ModuleVaultAddress())
	if vaultBal.Int64() != 200 {
		t.Fatalf("vault token balance %d, want 200", vaultBal.Int64())
	}

	// Unknown token contract address.
	if _, err := engine.DepositFungible(grantor, newTestAddress(0xF1), big.NewInt(1), beneficiary); !errors.Is(err, ErrNotTokenContract) {
		t.Fatalf("expected not token contract, got %v", err)
	}
}

func TestDepositNonFungible(t *testing.T) {
	engine, state, registry, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	other := newTestAddress(0x03)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	nft := newMockNFT()
	nft.mint(other, 7)
	registry.nonFungibles[tokenAddr] = nft
	state.contracts[tokenAddr] = true

	if _, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary); !errors.Is(err, ErrNotTokenOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}

	nft.mint(grantor, 7)
	index, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary)
	if err != nil {
		t.Fatalf("deposit nft: %v", err)
	}
	if index != 0 {
		t.Fatalf("unexpected index %d", index)
	}
	owner, err := nft.OwnerOf(big.NewInt(7))
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != ModuleVaultAddress() {
		t.Fatalf("token not custodied by vault")
	}

	// The vault owns the token now, so a second deposit trips the ownership
	// check before the dedup flag is even consulted.
	if _, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary); !errors.Is(err, ErrNotTokenOwner) {
		t.Fatalf("expected ownership error on re-deposit, got %v", err)
	}
}

func TestNonFungibleRemoveAndRedeposit(t *testing.T) {
	engine, state, registry, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	nft := newMockNFT()
	nft.mint(grantor, 7)
	registry.nonFungibles[tokenAddr] = nft
	state.contracts[tokenAddr] = true

	if _, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary); err != nil {
		t.Fatalf("deposit nft: %v", err)
	}
	if err := engine.RemoveAsset(grantor, 0); err != nil {
		t.Fatalf("remove asset: %v", err)
	}
	owner, err := nft.OwnerOf(big.NewInt(7))
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != grantor {
		t.Fatalf("token not returned to grantor")
	}

	// The dedup flag was cleared on removal, so the same token can be
	// escrowed again under a fresh ledger index.
	index, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary)
	if err != nil {
		t.Fatalf("re-deposit nft: %v", err)
	}
	if index != 1 {
		t.Fatalf("expected index 1, got %d", index)
	}
	count, _ := engine.GetAssetCount(grantor)
	if count != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", count)
	}
}

func TestUpdateBeneficiary(t *testing.T) {
	engine, state, _, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	first := newTestAddress(0x02)
	second := newTestAddress(0x03)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, first, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.UpdateBeneficiary(grantor, 5, second); !errors.Is(err, ErrAssetOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if err := engine.UpdateBeneficiary(grantor, 0, first); !errors.Is(err, ErrSameBeneficiary) {
		t.Fatalf("expected same beneficiary error, got %v", err)
	}

	if err := engine.AcceptBeneficiary(first, grantor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := engine.UpdateBeneficiary(grantor, 0, second); err != nil {
		t.Fatalf("update beneficiary: %v", err)
	}

	firstAssets, _ := engine.GetBeneficiaryAssets(grantor, first)
	if len(firstAssets) != 0 {
		t.Fatalf("previous beneficiary still indexed: %v", firstAssets)
	}
	secondAssets, _ := engine.GetBeneficiaryAssets(grantor, second)
	if len(secondAssets) != 1 || secondAssets[0] != 0 {
		t.Fatalf("new beneficiary not indexed: %v", secondAssets)
	}

	// Acceptance does not carry over to the new designee.
	accepted, _ := state.ConsentAccepted(grantor, second)
	if accepted {
		t.Fatalf("new beneficiary should not inherit acceptance")
	}
}

func TestRemoveAssetNeverCompletes(t *testing.T) {
	engine, state, _, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.RemoveAsset(grantor, 0); err != nil {
		t.Fatalf("remove asset: %v", err)
	}
	if err := engine.RemoveAsset(grantor, 0); !errors.Is(err, ErrAssetClaimed) {
		t.Fatalf("expected claimed error on double removal, got %v", err)
	}

	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Status != StatusActive {
		t.Fatalf("removal must not complete the will, status %v", w.Status)
	}
	if w.UnclaimedCount != 0 {
		t.Fatalf("unexpected unclaimed count %d", w.UnclaimedCount)
	}
	if got := state.balances[grantor].Int64(); got != 1000 {
		t.Fatalf("asset not returned to grantor: %d", got)
	}
	// The ledger entry stays readable.
	asset, err := engine.GetAsset(grantor, 0)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if !asset.Claimed {
		t.Fatalf("removed asset should be marked claimed")
	}
}

func TestContractBeneficiaryApproval(t *testing.T) {
	engine, state, _, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	contract := newTestAddress(0xC0)
	eoa := newTestAddress(0x02)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)

	if err := engine.ApproveContractBeneficiary(grantor, eoa); !errors.Is(err, ErrNotContract) {
		t.Fatalf("expected not contract error, got %v", err)
	}

	state.contracts[contract] = true
	if _, err := engine.DepositNative(grantor, contract, big.NewInt(100)); !errors.Is(err, ErrContractNotApproved) {
		t.Fatalf("expected approval error, got %v", err)
	}

	if err := engine.ApproveContractBeneficiary(grantor, contract); err != nil {
		t.Fatalf("approve contract: %v", err)
	}
	approved, err := engine.IsApprovedBeneficiary(grantor, contract)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if !approved {
		t.Fatalf("contract should be approved")
	}
	if _, err := engine.DepositNative(grantor, contract, big.NewInt(100)); err != nil {
		t.Fatalf("deposit to approved contract: %v", err)
	}

	// Revocation blocks new designations but leaves existing assets alone.
	if err := engine.RevokeContractBeneficiary(grantor, contract); err != nil {
		t.Fatalf("revoke contract: %v", err)
	}
	if _, err := engine.DepositNative(grantor, contract, big.NewInt(100)); !errors.Is(err, ErrContractNotApproved) {
		t.Fatalf("expected approval error after revoke, got %v", err)
	}
	indices, _ := engine.GetBeneficiaryAssets(grantor, contract)
	if len(indices) != 1 {
		t.Fatalf("existing designation should survive revocation: %v", indices)
	}
}

func TestBeneficiaryConsent(t *testing.T) {
	engine, state, _, emitter, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	outsider := newTestAddress(0x03)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.AcceptBeneficiary(outsider, grantor); !errors.Is(err, ErrNotDesignated) {
		t.Fatalf("expected designation error, got %v", err)
	}
	if err := engine.AcceptBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := lastEventType(t, emitter); got != EventTypeConsentAccepted {
		t.Fatalf("unexpected event type %q", got)
	}
	if err := engine.AcceptBeneficiary(beneficiary, grantor); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected already accepted, got %v", err)
	}

	// Rejecting is idempotent.
	if err := engine.RejectBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := engine.RejectBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("repeat reject: %v", err)
	}
	accepted, _ := state.ConsentAccepted(grantor, beneficiary)
	if accepted {
		t.Fatalf("consent should be withdrawn")
	}
}

func TestClaimLifecycle(t *testing.T) {
	engine, state, _, emitter, clock := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(400)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.AcceptBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// One second before the deadline nothing is claimable.
	clock.advance(MinHeartbeatInterval - 1)
	if err := engine.ClaimAsset(beneficiary, grantor, 0); !errors.Is(err, ErrWillNotClaimable) {
		t.Fatalf("expected not claimable, got %v", err)
	}

	// The deadline boundary itself is claimable.
	clock.advance(1)
	if err := engine.ClaimAsset(beneficiary, grantor, 0); err != nil {
		t.Fatalf("claim at boundary: %v", err)
	}
	if got := state.balances[beneficiary].Int64(); got != 400 {
		t.Fatalf("beneficiary balance %d, want 400", got)
	}

	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Status != StatusCompleted {
		t.Fatalf("claiming the last asset must complete the will, status %v", w.Status)
	}

	var seen []string
	for _, evt := range emitter.Events() {
		seen = append(seen, evt.Type)
	}
	want := []string{
		EventTypeWillCreated,
		EventTypeAssetDeposited,
		EventTypeConsentAccepted,
		EventTypeWillClaimable,
		EventTypeAssetClaimed,
		EventTypeWillCompleted,
	}
	if len(seen) != len(want) {
		t.Fatalf("event sequence %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, seen[i], want[i])
		}
	}

	if err := engine.ClaimAsset(beneficiary, grantor, 0); !errors.Is(err, ErrWillCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
}

func TestClaimGates(t *testing.T) {
	engine, state, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	other := newTestAddress(0x03)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clock.advance(MinHeartbeatInterval)

	if err := engine.ClaimAsset(beneficiary, grantor, 9); !errors.Is(err, ErrAssetOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if err := engine.ClaimAsset(other, grantor, 0); !errors.Is(err, ErrNotBeneficiary) {
		t.Fatalf("expected wrong caller error, got %v", err)
	}
	if err := engine.ClaimAsset(beneficiary, grantor, 0); !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("expected consent error, got %v", err)
	}

	if err := engine.AcceptBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := engine.ClaimAsset(beneficiary, grantor, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.ClaimAsset(beneficiary, grantor, 0); !errors.Is(err, ErrAssetClaimed) {
		t.Fatalf("expected double claim error, got %v", err)
	}

	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Status != StatusClaimable {
		t.Fatalf("one asset left, status should stay claimable, got %v", w.Status)
	}
	if w.UnclaimedCount != 1 {
		t.Fatalf("unexpected unclaimed count %d", w.UnclaimedCount)
	}
}

func TestConsentAfterClaimableStillWorks(t *testing.T) {
	engine, state, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Acceptance can arrive after the deadline has lapsed.
	clock.advance(MinHeartbeatInterval + 10)
	if err := engine.AcceptBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("late accept: %v", err)
	}
	if err := engine.ClaimAsset(beneficiary, grantor, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	engine, state, registry, emitter, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	tok := newMockFungible()
	tok.mint(grantor, 500)
	tok.approve(grantor, ModuleVaultAddress(), 500)
	registry.fungibles[tokenAddr] = tok
	state.contracts[tokenAddr] = true

	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(300)); err != nil {
		t.Fatalf("deposit native: %v", err)
	}
	if _, err := engine.DepositFungible(grantor, tokenAddr, big.NewInt(500), beneficiary); err != nil {
		t.Fatalf("deposit fungible: %v", err)
	}
	if err := engine.RemoveAsset(grantor, 0); err != nil {
		t.Fatalf("remove asset: %v", err)
	}

	returned, err := engine.EmergencyWithdraw(grantor)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if returned != 1 {
		t.Fatalf("expected 1 returned asset, got %d", returned)
	}
	if got := state.balances[grantor].Int64(); got != 1000 {
		t.Fatalf("native balance %d, want 1000", got)
	}
	grantorTok, _ := tok.BalanceOf(grantor)
	if grantorTok.Int64() != 500 {
		t.Fatalf("token balance %d, want 500", grantorTok.Int64())
	}
	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Status != StatusCompleted {
		t.Fatalf("withdrawal must complete the will, status %v", w.Status)
	}
	if got := lastEventType(t, emitter); got != EventTypeEmergencyWithdrawn {
		t.Fatalf("unexpected event type %q", got)
	}

	if _, err := engine.EmergencyWithdraw(grantor); !errors.Is(err, ErrWillCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
}

func TestEmergencyWithdrawBlockedOnceLapsed(t *testing.T) {
	engine, state, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// The deadline has passed but no one has called UpdateState, so the
	// stored status is still ACTIVE. The withdrawal gate evaluates the live
	// predicate, not the cache, so the grantor cannot race the beneficiary.
	clock.advance(MinHeartbeatInterval)
	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Status != StatusActive {
		t.Fatalf("stored status should still be active, got %v", w.Status)
	}
	if _, err := engine.EmergencyWithdraw(grantor); !errors.Is(err, ErrWillClaimable) {
		t.Fatalf("expected claimable gate, got %v", err)
	}
}

func TestUpdateState(t *testing.T) {
	engine, _, _, emitter, clock := newTestEngine()
	grantor := newTestAddress(0x01)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}

	status, err := engine.UpdateState(grantor)
	if err != nil {
		t.Fatalf("update state: %v", err)
	}
	if status != StatusActive {
		t.Fatalf("expected active, got %v", status)
	}

	clock.advance(MinHeartbeatInterval)
	status, err = engine.UpdateState(grantor)
	if err != nil {
		t.Fatalf("update state: %v", err)
	}
	if status != StatusClaimable {
		t.Fatalf("expected claimable, got %v", status)
	}
	if got := lastEventType(t, emitter); got != EventTypeWillClaimable {
		t.Fatalf("unexpected event type %q", got)
	}

	// Idempotent: no second claimable event.
	before := len(emitter.Events())
	if _, err := engine.UpdateState(grantor); err != nil {
		t.Fatalf("repeat update state: %v", err)
	}
	if len(emitter.Events()) != before {
		t.Fatalf("repeat update emitted an event")
	}
}

func TestIsClaimableDoesNotMutate(t *testing.T) {
	engine, state, _, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	clock.advance(MinHeartbeatInterval)

	claimable, err := engine.IsClaimable(grantor)
	if err != nil {
		t.Fatalf("is claimable: %v", err)
	}
	if !claimable {
		t.Fatalf("lapsed will should report claimable")
	}
	if state.wills[grantor].Status != StatusActive {
		t.Fatalf("read path must not materialize the transition")
	}
}

func TestClaimReentrancyBlocked(t *testing.T) {
	engine, state, registry, _, clock := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	nft := newMockNFT()
	nft.mint(grantor, 7)
	registry.nonFungibles[tokenAddr] = nft
	state.contracts[tokenAddr] = true

	if _, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary); err != nil {
		t.Fatalf("deposit nft: %v", err)
	}
	if err := engine.AcceptBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	clock.advance(MinHeartbeatInterval)

	// Simulate a receiver hook that tries to claim again mid-transfer.
	var inner error
	nft.onPayout = func() error {
		inner = engine.ClaimAsset(beneficiary, grantor, 0)
		return inner
	}
	if err := engine.ClaimAsset(beneficiary, grantor, 0); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected wrapped transfer failure, got %v", err)
	}
	if !errors.Is(inner, ErrReentrantCall) {
		t.Fatalf("inner call should hit the reentrancy guard, got %v", inner)
	}

	// The outer claim rolled back; a clean retry succeeds.
	nft.onPayout = nil
	if err := engine.ClaimAsset(beneficiary, grantor, 0); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	owner, err := nft.OwnerOf(big.NewInt(7))
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != beneficiary {
		t.Fatalf("token should belong to the beneficiary")
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	engine, _, _, _, _ := newTestEngine()
	engine.SetPauses(nativecommon.StaticPauses{moduleName: true})
	grantor := newTestAddress(0x01)

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error, got %v", err)
	}
	if err := engine.CheckIn(grantor); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error, got %v", err)
	}
	if _, err := engine.EmergencyWithdraw(grantor); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error, got %v", err)
	}
}

func TestReadProjections(t *testing.T) {
	engine, state, _, _, _ := newTestEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	contract := newTestAddress(0xC0)

	if _, err := engine.GetWill(grantor); !errors.Is(err, ErrWillNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	state.balances[grantor] = big.NewInt(1000)
	if _, err := engine.DepositNative(grantor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := engine.GetAsset(grantor, 1); !errors.Is(err, ErrAssetOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	asset, err := engine.GetAsset(grantor, 0)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Kind != AssetNative || asset.Amount.Int64() != 100 {
		t.Fatalf("unexpected asset %+v", asset)
	}

	approved, err := engine.IsApprovedBeneficiary(grantor, [20]byte{})
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if approved {
		t.Fatalf("null identity can never be approved")
	}
	approved, err = engine.IsApprovedBeneficiary(grantor, beneficiary)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if !approved {
		t.Fatalf("externally owned accounts are implicitly approved")
	}
	state.contracts[contract] = true
	approved, err = engine.IsApprovedBeneficiary(grantor, contract)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if approved {
		t.Fatalf("unapproved contract should not pass")
	}
}

// clearFailState fails a set number of dedup-flag clears to exercise the
// rollback between persisting the claimed flag and issuing the payout.
type clearFailState struct {
	*mockState
	clearFailures int
}

func (s *clearFailState) NFTDepositClear(grantor, token [20]byte, tokenID *big.Int) error {
	if s.clearFailures > 0 {
		s.clearFailures--
		return errors.New("dedup store offline")
	}
	return s.mockState.NFTDepositClear(grantor, token, tokenID)
}

func newClearFailEngine() (*Engine, *clearFailState, *mockRegistry, *testClock) {
	state := &clearFailState{mockState: newMockState()}
	registry := newMockRegistry()
	clock := &testClock{now: 1_000_000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetTokens(registry)
	engine.SetEmitter(events.NewMemoryEmitter())
	engine.SetNowFunc(func() int64 { return clock.now })
	return engine, state, registry, clock
}

func depositClearFailNFT(t *testing.T, engine *Engine, state *clearFailState, registry *mockRegistry, grantor, beneficiary, tokenAddr [20]byte) *mockNFT {
	t.Helper()
	if _, err := engine.CreateWill(grantor, MinHeartbeatInterval); err != nil {
		t.Fatalf("create will: %v", err)
	}
	nft := newMockNFT()
	nft.mint(grantor, 7)
	registry.nonFungibles[tokenAddr] = nft
	state.contracts[tokenAddr] = true
	if _, err := engine.DepositNonFungible(grantor, tokenAddr, big.NewInt(7), beneficiary); err != nil {
		t.Fatalf("deposit nft: %v", err)
	}
	return nft
}

func TestClaimRollsBackWhenDedupClearFails(t *testing.T) {
	engine, state, registry, clock := newClearFailEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)
	nft := depositClearFailNFT(t, engine, state, registry, grantor, beneficiary, tokenAddr)

	if err := engine.AcceptBeneficiary(beneficiary, grantor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	clock.advance(MinHeartbeatInterval)

	state.clearFailures = 1
	if err := engine.ClaimAsset(beneficiary, grantor, 0); err == nil {
		t.Fatalf("claim must surface the dedup store failure")
	}

	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Assets[0].Claimed {
		t.Fatalf("claimed flag must roll back when the dedup clear fails")
	}
	if w.UnclaimedCount != 1 {
		t.Fatalf("unclaimed count not restored, got %d", w.UnclaimedCount)
	}
	marked, _ := state.NFTDeposited(grantor, tokenAddr, big.NewInt(7))
	if !marked {
		t.Fatalf("dedup flag should survive the failed clear")
	}

	if err := engine.ClaimAsset(beneficiary, grantor, 0); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	owner, err := nft.OwnerOf(big.NewInt(7))
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != beneficiary {
		t.Fatalf("token should belong to the beneficiary after the retry")
	}
	w, _ = engine.GetWill(grantor)
	if w.Status != StatusCompleted {
		t.Fatalf("claiming the last asset should complete the will, got %v", w.Status)
	}
}

func TestRemoveAssetRollsBackWhenDedupClearFails(t *testing.T) {
	engine, state, registry, _ := newClearFailEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)
	nft := depositClearFailNFT(t, engine, state, registry, grantor, beneficiary, tokenAddr)

	state.clearFailures = 1
	if err := engine.RemoveAsset(grantor, 0); err == nil {
		t.Fatalf("removal must surface the dedup store failure")
	}

	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Assets[0].Claimed || w.UnclaimedCount != 1 {
		t.Fatalf("ledger must roll back, claimed=%v unclaimed=%d", w.Assets[0].Claimed, w.UnclaimedCount)
	}

	if err := engine.RemoveAsset(grantor, 0); err != nil {
		t.Fatalf("retry remove: %v", err)
	}
	owner, err := nft.OwnerOf(big.NewInt(7))
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != grantor {
		t.Fatalf("token should return to the grantor after the retry")
	}
}

func TestEmergencyWithdrawRollsBackWhenDedupClearFails(t *testing.T) {
	engine, state, registry, _ := newClearFailEngine()
	grantor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	tokenAddr := newTestAddress(0xF0)
	nft := depositClearFailNFT(t, engine, state, registry, grantor, beneficiary, tokenAddr)

	state.clearFailures = 1
	returned, err := engine.EmergencyWithdraw(grantor)
	if err == nil {
		t.Fatalf("withdrawal must surface the dedup store failure")
	}
	if returned != 0 {
		t.Fatalf("no asset was returned, got %d", returned)
	}

	w, err := engine.GetWill(grantor)
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.Assets[0].Claimed || w.UnclaimedCount != 1 {
		t.Fatalf("ledger must roll back, claimed=%v unclaimed=%d", w.Assets[0].Claimed, w.UnclaimedCount)
	}
	if w.Status != StatusActive {
		t.Fatalf("aborted withdrawal must not complete the will, got %v", w.Status)
	}

	returned, err = engine.EmergencyWithdraw(grantor)
	if err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
	if returned != 1 {
		t.Fatalf("expected one returned asset, got %d", returned)
	}
	owner, err := nft.OwnerOf(big.NewInt(7))
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != grantor {
		t.Fatalf("token should return to the grantor after the retry")
	}
}
