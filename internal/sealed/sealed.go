// Package sealed produces the contract input payloads for loan terms.
//
// Nothing here is confidential. Base64 is reversible by anyone and the
// input proofs are plain hashes; the types exist so the contract-call
// boundary can swap in real primitives without touching callers.
package sealed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("malformed payload")

// Codec turns plaintext amounts into contract input payloads and back.
type Codec interface {
	Encode(v decimal.Decimal) []byte
	Decode(payload []byte) (decimal.Decimal, error)
}

// Prover tags a set of payloads for the contract's input verifier.
type Prover interface {
	Name() string
	Prove(payloads ...[]byte) []byte
}

// Base64 is the placeholder codec the deployed contracts accept:
// the payload is the base64 text of the decimal representation.
type Base64 struct{}

func (Base64) Encode(v decimal.Decimal) []byte {
	return []byte(base64.StdEncoding.EncodeToString([]byte(v.String())))
}

func (Base64) Decode(payload []byte) (decimal.Decimal, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(payload)))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	v, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not a number", ErrMalformed, raw)
	}
	return v, nil
}

// ProverByName resolves a configured proof scheme.
func ProverByName(name string) (Prover, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "keccak", "keccak256":
		return Keccak{}, nil
	case "mimc":
		return MiMC{}, nil
	default:
		return nil, fmt.Errorf("unknown proof scheme %q", name)
	}
}

