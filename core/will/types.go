package will

import (
	"fmt"
	"math/big"
)

// AssetKind distinguishes the three classes of value a will can hold.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetFungible
	AssetNonFungible
)

// Valid reports whether the kind value is within the supported range.
func (k AssetKind) Valid() bool {
	switch k {
	case AssetNative, AssetFungible, AssetNonFungible:
		return true
	default:
		return false
	}
}

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetFungible:
		return "fungible"
	case AssetNonFungible:
		return "nonfungible"
	default:
		return "unknown"
	}
}

// Status represents the lifecycle states of a will. Transitions are one-way:
// ACTIVE -> CLAIMABLE -> COMPLETED, or ACTIVE -> COMPLETED on emergency
// withdraw.
type Status uint8

const (
	StatusActive Status = iota
	StatusClaimable
	StatusCompleted
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClaimable, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClaimable:
		return "claimable"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MinHeartbeatInterval is the smallest accepted heartbeat interval in seconds.
// Anything shorter would allow degenerate near-zero claim windows.
const MinHeartbeatInterval int64 = 24 * 60 * 60

// Asset is one ledger entry of a will. Entries are append-only and the slice
// index is the asset's permanent external identifier; claimed entries stay in
// place with the flag set.
type Asset struct {
	Kind          AssetKind
	TokenContract [20]byte
	TokenID       *big.Int
	Amount        *big.Int
	Beneficiary   [20]byte
	Claimed       bool
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	if a.TokenID != nil {
		clone.TokenID = new(big.Int).Set(a.TokenID)
	} else {
		clone.TokenID = big.NewInt(0)
	}
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Will is the per-grantor state machine and asset ledger. The Status field is
// a cached view of claimability; the authoritative predicate is ClaimableAt.
type Will struct {
	Grantor           [20]byte
	LastCheckIn       int64
	HeartbeatInterval int64
	Status            Status
	Assets            []Asset
	UnclaimedCount    uint64
	CreatedAt         int64
}

// Clone returns a deep copy of the will so callers can safely mutate the copy
// without affecting the stored instance.
func (w *Will) Clone() *Will {
	if w == nil {
		return nil
	}
	clone := *w
	clone.Assets = make([]Asset, len(w.Assets))
	for i := range w.Assets {
		clone.Assets[i] = *w.Assets[i].Clone()
	}
	return &clone
}

// Deadline returns the timestamp at which the will becomes claimable.
func (w *Will) Deadline() int64 {
	return w.LastCheckIn + w.HeartbeatInterval
}

// ClaimableAt is the authoritative claimability predicate. It never mutates
// state: the cached Status is only trusted when it already records
// claimability, otherwise the heartbeat deadline decides. The deadline itself
// counts as expired.
func (w *Will) ClaimableAt(now int64) bool {
	if w == nil {
		return false
	}
	switch w.Status {
	case StatusClaimable:
		return true
	case StatusActive:
		return now >= w.Deadline()
	default:
		return false
	}
}

// SanitizeWill validates and normalises a will record, returning a cloned
// instance with non-nil big integer fields. The unclaimed counter must match
// the ledger and the interval must be at least the minimum.
func SanitizeWill(w *Will) (*Will, error) {
	if w == nil {
		return nil, fmt.Errorf("nil will")
	}
	clone := w.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid will status: %d", clone.Status)
	}
	if clone.HeartbeatInterval < MinHeartbeatInterval {
		return nil, fmt.Errorf("heartbeat interval below minimum: %d", clone.HeartbeatInterval)
	}
	unclaimed := uint64(0)
	for i := range clone.Assets {
		asset := &clone.Assets[i]
		if !asset.Kind.Valid() {
			return nil, fmt.Errorf("invalid asset kind at index %d: %d", i, asset.Kind)
		}
		if asset.Amount.Sign() < 0 {
			return nil, fmt.Errorf("negative asset amount at index %d", i)
		}
		if !asset.Claimed {
			unclaimed++
		}
	}
	if clone.UnclaimedCount != unclaimed {
		return nil, fmt.Errorf("unclaimed counter mismatch: have %d, ledger says %d", clone.UnclaimedCount, unclaimed)
	}
	return clone, nil
}
