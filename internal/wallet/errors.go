package wallet

import (
	"errors"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrBackendUnavailable  = errors.New("wallet backend unavailable")
	ErrConnectionRejected  = errors.New("wallet connection rejected")
	ErrNetworkSwitchDenied = errors.New("network switch denied")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrUnknownNetwork      = errors.New("network not configured")

	errNotAuthorised = errors.New("wallet exposes no accounts")
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnrecognizedChain = 4902
)

// RPCErrorCode extracts the JSON-RPC error code reported by a wallet.
func RPCErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

func isUserRejection(err error) bool {
	code, ok := RPCErrorCode(err)
	return ok && code == CodeUserRejected
}
