package server

import (
	"errors"
	"net/http"

	"vaultlend/internal/hmacauth"
	"vaultlend/internal/lending"
	"vaultlend/internal/wallet"
)

const promptConnectWallet = "connect_wallet"

var (
	errNoPairing        = errors.New("no relay pairing in progress")
	errOffRequiredChain = errors.New("unsupported network")
)

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Prompt string `json:"prompt,omitempty"`
	// TxHash is set when a transaction was mined before the request failed.
	TxHash string `json:"txHash,omitempty"`
}

// classify maps a domain error onto its HTTP status and stable code.
func classify(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, wallet.ErrNotConnected):
		resp.Code, resp.Prompt = "NOT_CONNECTED", promptConnectWallet
		return http.StatusConflict, resp
	case errors.Is(err, wallet.ErrBackendUnavailable):
		resp.Code = "BACKEND_UNAVAILABLE"
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, wallet.ErrConnectionRejected):
		resp.Code = "CONNECTION_REJECTED"
		return http.StatusForbidden, resp
	case errors.Is(err, wallet.ErrNetworkSwitchDenied):
		resp.Code = "NETWORK_SWITCH_DENIED"
		return http.StatusForbidden, resp
	case errors.Is(err, wallet.ErrUnknownNetwork):
		resp.Code = "UNKNOWN_NETWORK"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, errOffRequiredChain):
		resp.Code = "UNSUPPORTED_NETWORK"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, lending.ErrInvalidInput), errors.Is(err, errBadRequest):
		resp.Code = "INVALID_INPUT"
		return http.StatusBadRequest, resp
	case errors.Is(err, lending.ErrSubmissionFailed):
		resp.Code = "SUBMISSION_FAILED"
		return http.StatusBadGateway, resp
	case errors.Is(err, lending.ErrCallFailed):
		resp.Code = "CALL_FAILED"
		return http.StatusBadGateway, resp
	case errors.Is(err, lending.ErrDecodeFailed):
		resp.Code = "DECODE_FAILED"
		return http.StatusBadGateway, resp
	case errors.Is(err, errNoPairing):
		resp.Code = "NO_PAIRING"
		return http.StatusNotFound, resp
	case errors.Is(err, hmacauth.ErrMissingSignature),
		errors.Is(err, hmacauth.ErrMissingTimestamp),
		errors.Is(err, hmacauth.ErrStaleTimestamp),
		errors.Is(err, hmacauth.ErrInvalidSignature):
		resp.Code = "UNAUTHORIZED"
		return http.StatusUnauthorized, resp
	}
	resp.Code = "INTERNAL"
	return http.StatusInternalServerError, resp
}
