package will

import (
	"encoding/hex"
	"strconv"

	"willvault/core/types"
	"willvault/crypto"
)

const (
	EventTypeWillCreated        = "will.created"
	EventTypeWillCheckIn        = "will.checkin"
	EventTypeHeartbeatUpdated   = "will.heartbeat_updated"
	EventTypeAssetDeposited     = "will.asset_deposited"
	EventTypeAssetRemoved       = "will.asset_removed"
	EventTypeBeneficiaryUpdated = "will.beneficiary_updated"
	EventTypeConsentAccepted    = "will.beneficiary_accepted"
	EventTypeConsentRejected    = "will.beneficiary_rejected"
	EventTypeContractApproved   = "will.contract_approved"
	EventTypeContractRevoked    = "will.contract_revoked"
	EventTypeWillClaimable      = "will.claimable"
	EventTypeAssetClaimed       = "will.asset_claimed"
	EventTypeWillCompleted      = "will.completed"
	EventTypeEmergencyWithdrawn = "will.emergency_withdrawn"
)

func addrString(addr [20]byte) string {
	return crypto.MustAddress(addr).String()
}

func willAttributes(w *Will) map[string]string {
	attrs := make(map[string]string)
	if w == nil {
		return attrs
	}
	attrs["grantor"] = addrString(w.Grantor)
	attrs["lastCheckIn"] = strconv.FormatInt(w.LastCheckIn, 10)
	attrs["heartbeatInterval"] = strconv.FormatInt(w.HeartbeatInterval, 10)
	attrs["status"] = w.Status.String()
	attrs["unclaimedCount"] = strconv.FormatUint(w.UnclaimedCount, 10)
	return attrs
}

func assetAttributes(attrs map[string]string, index uint64, a *Asset) map[string]string {
	if a == nil {
		return attrs
	}
	attrs["assetIndex"] = strconv.FormatUint(index, 10)
	attrs["assetKind"] = a.Kind.String()
	attrs["beneficiary"] = addrString(a.Beneficiary)
	attrs["amount"] = cloneBigInt(a.Amount).String()
	if a.Kind != AssetNative {
		attrs["tokenContract"] = hex.EncodeToString(a.TokenContract[:])
	}
	if a.Kind == AssetNonFungible {
		attrs["tokenId"] = cloneBigInt(a.TokenID).String()
	}
	return attrs
}

type createdEvent struct{ will *Will }

func (createdEvent) EventType() string { return EventTypeWillCreated }

func (e createdEvent) Event() *types.Event {
	attrs := willAttributes(e.will)
	if e.will != nil {
		attrs["createdAt"] = strconv.FormatInt(e.will.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeWillCreated, Attributes: attrs}
}

type checkInEvent struct{ will *Will }

func (checkInEvent) EventType() string { return EventTypeWillCheckIn }

func (e checkInEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeWillCheckIn, Attributes: willAttributes(e.will)}
}

type heartbeatUpdatedEvent struct {
	will        *Will
	oldInterval int64
}

func (heartbeatUpdatedEvent) EventType() string { return EventTypeHeartbeatUpdated }

func (e heartbeatUpdatedEvent) Event() *types.Event {
	attrs := willAttributes(e.will)
	attrs["previousInterval"] = strconv.FormatInt(e.oldInterval, 10)
	return &types.Event{Type: EventTypeHeartbeatUpdated, Attributes: attrs}
}

type assetDepositedEvent struct {
	will  *Will
	index uint64
	asset *Asset
}

func (assetDepositedEvent) EventType() string { return EventTypeAssetDeposited }

func (e assetDepositedEvent) Event() *types.Event {
	attrs := assetAttributes(willAttributes(e.will), e.index, e.asset)
	return &types.Event{Type: EventTypeAssetDeposited, Attributes: attrs}
}

type assetRemovedEvent struct {
	will  *Will
	index uint64
	asset *Asset
}

func (assetRemovedEvent) EventType() string { return EventTypeAssetRemoved }

func (e assetRemovedEvent) Event() *types.Event {
	attrs := assetAttributes(willAttributes(e.will), e.index, e.asset)
	return &types.Event{Type: EventTypeAssetRemoved, Attributes: attrs}
}

type beneficiaryUpdatedEvent struct {
	will     *Will
	index    uint64
	previous [20]byte
	current  [20]byte
}

func (beneficiaryUpdatedEvent) EventType() string { return EventTypeBeneficiaryUpdated }

func (e beneficiaryUpdatedEvent) Event() *types.Event {
	attrs := willAttributes(e.will)
	attrs["assetIndex"] = strconv.FormatUint(e.index, 10)
	attrs["previousBeneficiary"] = addrString(e.previous)
	attrs["beneficiary"] = addrString(e.current)
	return &types.Event{Type: EventTypeBeneficiaryUpdated, Attributes: attrs}
}

type consentEvent struct {
	grantor     [20]byte
	beneficiary [20]byte
	accepted    bool
}

func (e consentEvent) EventType() string {
	if e.accepted {
		return EventTypeConsentAccepted
	}
	return EventTypeConsentRejected
}

func (e consentEvent) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"grantor":     addrString(e.grantor),
		"beneficiary": addrString(e.beneficiary),
	}}
}

type contractApprovalEvent struct {
	grantor     [20]byte
	beneficiary [20]byte
	approved    bool
}

func (e contractApprovalEvent) EventType() string {
	if e.approved {
		return EventTypeContractApproved
	}
	return EventTypeContractRevoked
}

func (e contractApprovalEvent) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"grantor":     addrString(e.grantor),
		"beneficiary": addrString(e.beneficiary),
	}}
}

type claimableEvent struct{ will *Will }

func (claimableEvent) EventType() string { return EventTypeWillClaimable }

func (e claimableEvent) Event() *types.Event {
	attrs := willAttributes(e.will)
	if e.will != nil {
		attrs["deadline"] = strconv.FormatInt(e.will.Deadline(), 10)
	}
	return &types.Event{Type: EventTypeWillClaimable, Attributes: attrs}
}

type assetClaimedEvent struct {
	will  *Will
	index uint64
	asset *Asset
}

func (assetClaimedEvent) EventType() string { return EventTypeAssetClaimed }

func (e assetClaimedEvent) Event() *types.Event {
	attrs := assetAttributes(willAttributes(e.will), e.index, e.asset)
	return &types.Event{Type: EventTypeAssetClaimed, Attributes: attrs}
}

type completedEvent struct{ will *Will }

func (completedEvent) EventType() string { return EventTypeWillCompleted }

func (e completedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeWillCompleted, Attributes: willAttributes(e.will)}
}

type emergencyWithdrawnEvent struct {
	will     *Will
	returned uint64
}

func (emergencyWithdrawnEvent) EventType() string { return EventTypeEmergencyWithdrawn }

func (e emergencyWithdrawnEvent) Event() *types.Event {
	attrs := willAttributes(e.will)
	attrs["returnedAssets"] = strconv.FormatUint(e.returned, 10)
	return &types.Event{Type: EventTypeEmergencyWithdrawn, Attributes: attrs}
}
