// Package rpc implements the JSON-RPC 2.0 API server of klinghsmd.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-hsm/config"
	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/metrics"
	"github.com/Klingon-tech/klingnet-hsm/internal/wallet"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	engine      *wallet.Engine
	metrics     *metrics.Metrics // nil = no /metrics endpoint.
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering,
// CORS and the metrics endpoint. A zero-value RPCConfig allows all IPs,
// disables CORS and serves no metrics.
func New(addr string, engine *wallet.Engine, m *metrics.Metrics, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:   addr,
		engine: engine,
		logger: klog.RPC,
	}

	serveMetrics := false
	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
		serveMetrics = rpcCfg[0].Metrics
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	if serveMetrics && m != nil {
		s.metrics = m
		mux.Handle("/metrics", s.filterIP(m.Handler()))
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("metrics", s.metrics != nil).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// filterIP rejects requests from addresses outside the allow-list.
func (s *Server) filterIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requestAllowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestAllowed(r *http.Request) bool {
	if len(s.allowedNets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && s.isIPAllowed(ip)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.requestAllowed(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// CORS headers.
	s.setCORSHeaders(w, r)

	// Handle CORS preflight.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "hsm_getInfo":
		return s.handleGetInfo(req)

	case "wallet_generate":
		return s.handleWalletGenerate(req)
	case "wallet_restore":
		return s.handleWalletRestore(req)
	case "wallet_derive":
		return s.handleWalletDerive(req)
	case "wallet_derivePath":
		return s.handleWalletDerivePath(req)
	case "wallet_oversight":
		return s.handleWalletOversight(req)
	case "wallet_addressOf":
		return s.handleWalletAddressOf(req)
	case "wallet_slotOf":
		return s.handleWalletSlotOf(req)
	case "wallet_list":
		return s.handleWalletList(req)
	case "wallet_slots":
		return s.handleWalletSlots(req)
	case "wallet_delete":
		return s.handleWalletDelete(req)

	case "slip39_setGroupInfo":
		return s.handleSLIP39SetGroupInfo(req)
	case "slip39_addMember":
		return s.handleSLIP39AddMember(req)
	case "slip39_addMnemonic":
		return s.handleSLIP39AddMnemonic(req)
	case "slip39_status":
		return s.handleSLIP39Status(req)
	case "slip39_cancel":
		return s.handleSLIP39Cancel(req)

	case "key_generate":
		return s.handleKeyGenerate(req)
	case "key_generateEphemeral":
		return s.handleKeyGenerateEphemeral(req)
	case "key_invalidateEphemeral":
		return s.handleKeyInvalidateEphemeral(req)
	case "key_storeForeign":
		return s.handleKeyStoreForeign(req)
	case "key_remove":
		return s.handleKeyRemove(req)
	case "key_disableExport":
		return s.handleKeyDisableExport(req)
	case "key_get":
		return s.handleKeyGet(req)
	case "key_list":
		return s.handleKeyList(req)
	case "key_sign":
		return s.handleKeySign(req, false)
	case "key_signRecoverable":
		return s.handleKeySign(req, true)
	case "key_verify":
		return s.handleKeyVerify(req)
	case "key_ecdh":
		return s.handleKeyECDH(req)
	case "key_entropy":
		return s.handleKeyEntropy(req)

	case "eth_accounts":
		return s.handleEthAccounts(req)
	case "eth_addAccounts":
		return s.handleEthAddAccounts(req)
	case "eth_signHash":
		return s.handleEthSignHash(req)

	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// errorFrom maps an engine error to a JSON-RPC error. Typed failures carry
// their kind code and name; anything else is an internal error.
func errorFrom(err error) *Error {
	kind := hsmerr.KindOf(err)
	if kind == hsmerr.KindUnknown {
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &Error{Code: kind.Code(), Message: err.Error(), Data: kind.String()}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// parseOptionalParams is parseParams for endpoints whose params may be omitted.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	return parseParams(req, target)
}
