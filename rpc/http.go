package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"willvault/core"
	nativecommon "willvault/native/common"
	"willvault/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport settings for the JSON-RPC surface.
type ServerConfig struct {
	AuthToken        string
	RateLimitPerMin  int
	MutationsPerHour uint32
}

type Server struct {
	node *core.Node
	log  *slog.Logger

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	usage     map[string]nativecommon.QuotaNow
	quota     nativecommon.Quota
	authToken string
	rateLimit rate.Limit
	burst     int

	httpSrv *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 120
	}
	perHour := cfg.MutationsPerHour
	if perHour == 0 {
		perHour = 1000
	}
	return &Server{
		node:      node,
		log:       slog.Default().With("component", "rpc"),
		limiters:  make(map[string]*rate.Limiter),
		usage:     make(map[string]nativecommon.QuotaNow),
		quota:     nativecommon.Quota{MaxRequestsPerEpoch: perHour, EpochSeconds: 3600},
		authToken: strings.TrimSpace(cfg.AuthToken),
		rateLimit: rate.Limit(float64(perMin) / 60.0),
		burst:     perMin,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "willvault.rpc"))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return r
}

func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methodHandler(req.Method)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return
	}
	if mutatingMethods[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		source := clientSource(r)
		if !s.allowSource(source) {
			observability.RPC().RecordThrottle("rate_limit")
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		if !s.allowQuota(source, time.Now()) {
			observability.RPC().RecordThrottle("quota")
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "hourly request quota exceeded", nil)
			return
		}
	}

	start := time.Now()
	handleErr := handler(w, r, req)
	observability.RPC().Observe(req.Method, time.Since(start), handleErr)
}

type methodFunc func(http.ResponseWriter, *http.Request, *RPCRequest) error

var mutatingMethods = map[string]bool{
	"will_create":                     true,
	"will_checkIn":                    true,
	"will_modifyHeartbeat":            true,
	"will_depositNative":              true,
	"will_depositFungible":            true,
	"will_depositNonFungible":         true,
	"will_updateBeneficiary":          true,
	"will_removeAsset":                true,
	"will_approveContractBeneficiary": true,
	"will_revokeContractBeneficiary":  true,
	"will_acceptBeneficiary":          true,
	"will_rejectBeneficiary":          true,
	"will_claimAsset":                 true,
	"will_emergencyWithdraw":          true,
	"token_mint":                      true,
	"token_approve":                   true,
	"token_approveOperator":           true,
	"admin_faucet":                    true,
}

func (s *Server) methodHandler(method string) (methodFunc, bool) {
	switch method {
	case "will_create":
		return s.handleWillCreate, true
	case "will_checkIn":
		return s.handleWillCheckIn, true
	case "will_modifyHeartbeat":
		return s.handleWillModifyHeartbeat, true
	case "will_depositNative":
		return s.handleWillDepositNative, true
	case "will_depositFungible":
		return s.handleWillDepositFungible, true
	case "will_depositNonFungible":
		return s.handleWillDepositNonFungible, true
	case "will_updateBeneficiary":
		return s.handleWillUpdateBeneficiary, true
	case "will_removeAsset":
		return s.handleWillRemoveAsset, true
	case "will_approveContractBeneficiary":
		return s.handleWillApproveContract, true
	case "will_revokeContractBeneficiary":
		return s.handleWillRevokeContract, true
	case "will_acceptBeneficiary":
		return s.handleWillAcceptBeneficiary, true
	case "will_rejectBeneficiary":
		return s.handleWillRejectBeneficiary, true
	case "will_claimAsset":
		return s.handleWillClaimAsset, true
	case "will_emergencyWithdraw":
		return s.handleWillEmergencyWithdraw, true
	case "will_updateState":
		return s.handleWillUpdateState, true
	case "will_isClaimable":
		return s.handleWillIsClaimable, true
	case "will_get":
		return s.handleWillGet, true
	case "will_getAsset":
		return s.handleWillGetAsset, true
	case "will_getAssetCount":
		return s.handleWillGetAssetCount, true
	case "will_getBeneficiaryAssets":
		return s.handleWillBeneficiaryAssets, true
	case "will_isApprovedBeneficiary":
		return s.handleWillIsApprovedBeneficiary, true
	case "token_mint":
		return s.handleTokenMint, true
	case "token_approve":
		return s.handleTokenApprove, true
	case "token_approveOperator":
		return s.handleTokenApproveOperator, true
	case "token_balanceOf":
		return s.handleTokenBalanceOf, true
	case "token_ownerOf":
		return s.handleTokenOwnerOf, true
	case "admin_faucet":
		return s.handleAdminFaucet, true
	case "admin_balance":
		return s.handleAdminBalance, true
	}
	return nil, false
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) allowQuota(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	epoch := uint64(now.Unix()) / uint64(s.quota.EpochSeconds)
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := nativecommon.CheckQuota(s.quota, epoch, s.usage[source], 1, 0)
	if err != nil {
		return false
	}
	s.usage[source] = next
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
