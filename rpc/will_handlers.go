package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"willvault/core/will"
	"willvault/crypto"
	nativecommon "willvault/native/common"
)

const (
	codeWillInvalidParams = -32051
	codeWillNotFound      = -32052
	codeWillForbidden     = -32053
	codeWillConflict      = -32054
	codeWillConsent       = -32055
	codeWillTransfer      = -32056
)

type willCreateParams struct {
	Grantor           string `json:"grantor"`
	HeartbeatInterval int64  `json:"heartbeatInterval"`
}

type willGrantorParams struct {
	Grantor string `json:"grantor"`
}

type willHeartbeatParams struct {
	Grantor           string `json:"grantor"`
	HeartbeatInterval int64  `json:"heartbeatInterval"`
}

type willDepositNativeParams struct {
	Grantor     string `json:"grantor"`
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
}

type willDepositFungibleParams struct {
	Grantor     string `json:"grantor"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
}

type willDepositNonFungibleParams struct {
	Grantor     string `json:"grantor"`
	Token       string `json:"token"`
	TokenID     string `json:"tokenId"`
	Beneficiary string `json:"beneficiary"`
}

type willAssetIndexParams struct {
	Grantor string `json:"grantor"`
	Index   uint64 `json:"index"`
}

type willUpdateBeneficiaryParams struct {
	Grantor     string `json:"grantor"`
	Index       uint64 `json:"index"`
	Beneficiary string `json:"beneficiary"`
}

type willContractApprovalParams struct {
	Grantor  string `json:"grantor"`
	Contract string `json:"contract"`
}

type willConsentParams struct {
	Caller  string `json:"caller"`
	Grantor string `json:"grantor"`
}

type willClaimParams struct {
	Caller  string `json:"caller"`
	Grantor string `json:"grantor"`
	Index   uint64 `json:"index"`
}

type willBeneficiaryQueryParams struct {
	Grantor     string `json:"grantor"`
	Beneficiary string `json:"beneficiary"`
}

type willOKResult struct {
	OK bool `json:"ok"`
}

type willIndexResult struct {
	Index uint64 `json:"index"`
}

type willStatusResult struct {
	Status string `json:"status"`
}

type willClaimableResult struct {
	Claimable bool `json:"claimable"`
}

type willCountResult struct {
	Count uint64 `json:"count"`
}

type willApprovedResult struct {
	Approved bool `json:"approved"`
}

type willWithdrawResult struct {
	Returned uint64 `json:"returned"`
}

type willAssetsResult struct {
	Indices []uint64 `json:"indices"`
}

type willAssetJSON struct {
	Index         uint64 `json:"index"`
	Kind          string `json:"kind"`
	TokenContract string `json:"tokenContract,omitempty"`
	TokenID       string `json:"tokenId,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Beneficiary   string `json:"beneficiary"`
	Claimed       bool   `json:"claimed"`
}

type willJSON struct {
	Grantor           string          `json:"grantor"`
	Status            string          `json:"status"`
	LastCheckIn       int64           `json:"lastCheckIn"`
	HeartbeatInterval int64           `json:"heartbeatInterval"`
	Deadline          int64           `json:"deadline"`
	CreatedAt         int64           `json:"createdAt"`
	UnclaimedCount    uint64          `json:"unclaimedCount"`
	Assets            []willAssetJSON `json:"assets"`
}

func formatAddress(b [20]byte) string {
	return crypto.MustAddress(b).String()
}

func formatAssetJSON(index uint64, a *will.Asset) willAssetJSON {
	out := willAssetJSON{
		Index:       index,
		Kind:        a.Kind.String(),
		Beneficiary: formatAddress(a.Beneficiary),
		Claimed:     a.Claimed,
	}
	if a.Kind != will.AssetNative {
		out.TokenContract = "0x" + hex.EncodeToString(a.TokenContract[:])
	}
	if a.TokenID != nil {
		out.TokenID = a.TokenID.String()
	}
	if a.Amount != nil {
		out.Amount = a.Amount.String()
	}
	return out
}

func formatWillJSON(w *will.Will) willJSON {
	assets := make([]willAssetJSON, len(w.Assets))
	for i := range w.Assets {
		assets[i] = formatAssetJSON(uint64(i), &w.Assets[i])
	}
	return willJSON{
		Grantor:           formatAddress(w.Grantor),
		Status:            w.Status.String(),
		LastCheckIn:       w.LastCheckIn,
		HeartbeatInterval: w.HeartbeatInterval,
		Deadline:          w.Deadline(),
		CreatedAt:         w.CreatedAt,
		UnclaimedCount:    w.UnclaimedCount,
		Assets:            assets,
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseTokenID(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("tokenId required")
	}
	id, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid tokenId")
	}
	if id.Sign() < 0 {
		return nil, fmt.Errorf("tokenId must not be negative")
	}
	return id, nil
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) error {
	writeError(w, http.StatusBadRequest, id, codeWillInvalidParams, "invalid_params", err.Error())
	return err
}

func writeWillError(w http.ResponseWriter, id interface{}, err error) error {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	if errors.Is(err, nativecommon.ErrModulePaused) {
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, "module_paused", err.Error())
		return err
	}
	if errors.Is(err, will.ErrWillNotFound) {
		writeError(w, http.StatusNotFound, id, codeWillNotFound, "not_found", err.Error())
		return err
	}
	switch will.CategoryOf(err) {
	case will.CategoryAuthorization:
		status = http.StatusForbidden
		code = codeWillForbidden
		message = "forbidden"
	case will.CategoryState:
		status = http.StatusConflict
		code = codeWillConflict
		message = "conflict"
	case will.CategoryValidation:
		status = http.StatusBadRequest
		code = codeWillInvalidParams
		message = "invalid_params"
	case will.CategoryApproval:
		status = http.StatusConflict
		code = codeWillConsent
		message = "consent_required"
	case will.CategoryTransfer:
		status = http.StatusBadGateway
		code = codeWillTransfer
		message = "transfer_failed"
	}
	writeError(w, status, id, code, message, err.Error())
	return err
}

func (s *Server) handleWillCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willCreateParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	created, err := s.node.WillCreate(grantor, params.HeartbeatInterval)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatWillJSON(created))
	return nil
}

func (s *Server) handleWillCheckIn(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willGrantorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.WillCheckIn(grantor); err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillModifyHeartbeat(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willHeartbeatParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.WillModifyHeartbeat(grantor, params.HeartbeatInterval); err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillDepositNative(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willDepositNativeParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	index, err := s.node.WillDepositNative(grantor, beneficiary, amount)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willIndexResult{Index: index})
	return nil
}

func (s *Server) handleWillDepositFungible(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willDepositFungibleParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	token, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	index, err := s.node.WillDepositFungible(grantor, token, amount, beneficiary)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willIndexResult{Index: index})
	return nil
}

func (s *Server) handleWillDepositNonFungible(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willDepositNonFungibleParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	token, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenID, err := parseTokenID(params.TokenID)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	index, err := s.node.WillDepositNonFungible(grantor, token, tokenID, beneficiary)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willIndexResult{Index: index})
	return nil
}

func (s *Server) handleWillUpdateBeneficiary(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willUpdateBeneficiaryParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.WillUpdateBeneficiary(grantor, params.Index, beneficiary); err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillRemoveAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willAssetIndexParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.WillRemoveAsset(grantor, params.Index); err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillApproveContract(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	return s.handleContractApproval(w, req, true)
}

func (s *Server) handleWillRevokeContract(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	return s.handleContractApproval(w, req, false)
}

func (s *Server) handleContractApproval(w http.ResponseWriter, req *RPCRequest, approve bool) error {
	var params willContractApprovalParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	contract, err := parseBech32Address(params.Contract)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if approve {
		err = s.node.WillApproveContractBeneficiary(grantor, contract)
	} else {
		err = s.node.WillRevokeContractBeneficiary(grantor, contract)
	}
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillAcceptBeneficiary(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	return s.handleConsent(w, req, true)
}

func (s *Server) handleWillRejectBeneficiary(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	return s.handleConsent(w, req, false)
}

func (s *Server) handleConsent(w http.ResponseWriter, req *RPCRequest, accept bool) error {
	var params willConsentParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if accept {
		err = s.node.WillAcceptBeneficiary(caller, grantor)
	} else {
		err = s.node.WillRejectBeneficiary(caller, grantor)
	}
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillClaimAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willClaimParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.WillClaimAsset(caller, grantor, params.Index); err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleWillEmergencyWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willGrantorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	returned, err := s.node.WillEmergencyWithdraw(grantor)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willWithdrawResult{Returned: returned})
	return nil
}

func (s *Server) handleWillUpdateState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willGrantorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	status, err := s.node.WillUpdateState(grantor)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willStatusResult{Status: status.String()})
	return nil
}

func (s *Server) handleWillIsClaimable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willGrantorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	claimable, err := s.node.WillIsClaimable(grantor)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willClaimableResult{Claimable: claimable})
	return nil
}

func (s *Server) handleWillGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willGrantorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	record, err := s.node.WillGet(grantor)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatWillJSON(record))
	return nil
}

func (s *Server) handleWillGetAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willAssetIndexParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	asset, err := s.node.WillGetAsset(grantor, params.Index)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatAssetJSON(params.Index, asset))
	return nil
}

func (s *Server) handleWillGetAssetCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willGrantorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	count, err := s.node.WillGetAssetCount(grantor)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willCountResult{Count: count})
	return nil
}

func (s *Server) handleWillBeneficiaryAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willBeneficiaryQueryParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	indices, err := s.node.WillBeneficiaryAssets(grantor, beneficiary)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	if indices == nil {
		indices = []uint64{}
	}
	writeResult(w, req.ID, willAssetsResult{Indices: indices})
	return nil
}

func (s *Server) handleWillIsApprovedBeneficiary(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params willBeneficiaryQueryParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	grantor, err := parseBech32Address(params.Grantor)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	candidate, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	approved, err := s.node.WillIsApprovedBeneficiary(grantor, candidate)
	if err != nil {
		return writeWillError(w, req.ID, err)
	}
	writeResult(w, req.ID, willApprovedResult{Approved: approved})
	return nil
}
