package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"willvault/native/token"
)

const (
	codeTokenInvalidParams = -32061
	codeTokenNotFound      = -32062
)

type tokenMintParams struct {
	Token   string `json:"token"`
	To      string `json:"to"`
	Amount  string `json:"amount,omitempty"`
	TokenID string `json:"tokenId,omitempty"`
}

type tokenApproveParams struct {
	Owner  string `json:"owner"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type tokenOperatorParams struct {
	Owner    string `json:"owner"`
	Token    string `json:"token"`
	Approved bool   `json:"approved"`
}

type tokenBalanceParams struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
}

type tokenOwnerParams struct {
	Token   string `json:"token"`
	TokenID string `json:"tokenId"`
}

type adminFaucetParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type adminAddressParams struct {
	Address string `json:"address"`
}

type tokenBalanceResult struct {
	Balance string `json:"balance"`
}

type tokenOwnerResult struct {
	Owner string `json:"owner"`
}

func writeTokenError(w http.ResponseWriter, id interface{}, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, token.ErrUnknownToken), errors.Is(err, token.ErrNotMinted):
		writeError(w, http.StatusNotFound, id, codeTokenNotFound, "not_found", err.Error())
	case errors.Is(err, token.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeTokenInvalidParams, "invalid_params", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
	return err
}

func (s *Server) handleTokenMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params tokenMintParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenAddr, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if (params.Amount == "") == (params.TokenID == "") {
		return writeInvalidParams(w, req.ID, fmt.Errorf("exactly one of amount or tokenId expected"))
	}
	var value *big.Int
	if params.Amount != "" {
		value, err = parsePositiveBigInt(params.Amount)
	} else {
		value, err = parseTokenID(params.TokenID)
	}
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.TokenMint(tokenAddr, to, value); err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params tokenApproveParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenAddr, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.TokenApproveVault(owner, tokenAddr, amount); err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleTokenApproveOperator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params tokenOperatorParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenAddr, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.TokenApproveVaultOperator(owner, tokenAddr, params.Approved); err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params tokenBalanceParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenAddr, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	balance, err := s.node.TokenBalanceOf(tokenAddr, owner)
	if err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, tokenBalanceResult{Balance: balance.String()})
	return nil
}

func (s *Server) handleTokenOwnerOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params tokenOwnerParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenAddr, err := parseBech32Address(params.Token)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	tokenID, err := parseTokenID(params.TokenID)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	owner, err := s.node.TokenOwnerOf(tokenAddr, tokenID)
	if err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, tokenOwnerResult{Owner: formatAddress(owner)})
	return nil
}

func (s *Server) handleAdminFaucet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params adminFaucetParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if err := s.node.Faucet(addr, amount); err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, willOKResult{OK: true})
	return nil
}

func (s *Server) handleAdminBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params adminAddressParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return writeTokenError(w, req.ID, err)
	}
	writeResult(w, req.ID, tokenBalanceResult{Balance: balance.String()})
	return nil
}
