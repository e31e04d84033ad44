package sealed

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keccak hashes the concatenated payloads. This is what the deployed
// verifier recomputes.
type Keccak struct{}

func (Keccak) Name() string { return "keccak" }

func (Keccak) Prove(payloads ...[]byte) []byte {
	return crypto.Keccak256(payloads...)
}

// chunk keeps every block strictly below the BN254 scalar modulus.
const chunk = fr.Bytes - 1

// MiMC hashes the concatenated payloads with MiMC over BN254, the hash
// circuits use for commitments. The verifier must be deployed with the
// same scheme.
type MiMC struct{}

func (MiMC) Name() string { return "mimc" }

func (MiMC) Prove(payloads ...[]byte) []byte {
	var joined []byte
	for _, p := range payloads {
		joined = append(joined, p...)
	}

	h := mimc.NewMiMC()
	var e fr.Element
	for start := 0; start < len(joined); start += chunk {
		end := start + chunk
		if end > len(joined) {
			end = len(joined)
		}
		e.SetBytes(joined[start:end])
		b := e.Bytes()
		// Writes of canonical field elements cannot fail.
		_, _ = h.Write(b[:])
	}
	return h.Sum(nil)
}
