package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"vaultlend/internal/wallet"
)

type sessionResponse struct {
	Session         wallet.Session `json:"session"`
	State           wallet.State   `json:"state"`
	RequiredChainID uint64         `json:"requiredChainId"`
	WrongNetwork    bool           `json:"wrongNetwork"`
	Loading         bool           `json:"loading"`
}

func (s *Server) sessionView() sessionResponse {
	sess := s.wallet.Session()
	required := s.wallet.RequiredChainID()
	resp := sessionResponse{
		Session:         sess,
		State:           s.wallet.State(),
		RequiredChainID: required,
	}
	if s.loans != nil {
		resp.Loading = s.loans.Loading()
	}
	if sess.IsConnected && required != 0 && sess.ChainID != nil && *sess.ChainID != required {
		resp.WrongNetwork = true
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

type connectRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	kind, err := wallet.ParseKind(req.Kind)
	if err != nil || kind == wallet.KindNone {
		s.writeError(w, fmt.Errorf("%w: unsupported wallet kind %q", errBadRequest, req.Kind))
		return
	}

	if _, err := s.wallet.Connect(r.Context(), kind); err != nil {
		s.metrics.incConnect(kind.String(), "failed")
		s.notices.Error("Failed to connect wallet: " + err.Error())
		s.writeError(w, err)
		return
	}
	s.metrics.incConnect(kind.String(), "connected")
	s.notices.Success("Wallet connected successfully!")
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	wasConnected := s.wallet.Session().IsConnected
	if err := s.wallet.Disconnect(); err != nil {
		s.log.Warn("disconnect", zap.Error(err))
	}
	if wasConnected {
		s.notices.Success("Wallet disconnected")
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

type switchNetworkRequest struct {
	ChainID uint64 `json:"chainId"`
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var req switchNetworkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	required := s.wallet.RequiredChainID()
	target := req.ChainID
	if target == 0 {
		target = required
	}
	if target == 0 {
		s.writeError(w, fmt.Errorf("%w: chainId is required", errBadRequest))
		return
	}
	// The manager steers the wallet back to the required chain, so any other
	// target would be undone as soon as the wallet reports it.
	if required != 0 && target != required {
		s.writeError(w, fmt.Errorf("%w: chain %d, contracts are on chain %d", errOffRequiredChain, target, required))
		return
	}

	if err := s.wallet.SwitchNetwork(r.Context(), target); err != nil {
		s.notices.Error("Failed to switch network: " + err.Error())
		s.writeError(w, err)
		return
	}
	name := fmt.Sprintf("chain %d", target)
	if n, ok := s.networks.Lookup(target); ok {
		name = n.Name
	}
	s.notices.Success("Network switched to " + name)
	writeJSON(w, http.StatusOK, s.sessionView())
}

// handlePairing returns the relay pairing as JSON, or the bare QR image
// with ?format=png.
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	if s.pairings == nil {
		s.writeError(w, errNoPairing)
		return
	}
	p, ok := s.pairings.Pairing()
	if !ok {
		s.writeError(w, errNoPairing)
		return
	}
	if r.URL.Query().Get("format") == "png" {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(p.QRCode)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
