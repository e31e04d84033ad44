package sealed

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

func TestBase64RoundTrip(t *testing.T) {
	var c Base64
	for _, s := range []string{"0", "1000", "5.25", "0.000001", "-3", "123456789012345678901234567890"} {
		v := decimal.RequireFromString(s)
		got, err := c.Decode(c.Encode(v))
		if err != nil {
			t.Fatalf("decode %s: %v", s, err)
		}
		if !got.Equal(v) {
			t.Fatalf("round trip %s gave %s", s, got)
		}
	}
}

func TestBase64MatchesDeployedFormat(t *testing.T) {
	got := Base64{}.Encode(decimal.NewFromInt(1000))
	if string(got) != "MTAwMA==" {
		t.Fatalf("encoded 1000 as %q", got)
	}
}

func TestBase64DecodeMalformed(t *testing.T) {
	for _, raw := range []string{"not base64!", "aGVsbG8="} {
		if _, err := (Base64{}).Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("decode %q: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestKeccakIsHashOfConcatenation(t *testing.T) {
	a, b := []byte("MTAwMA=="), []byte("NQ==")
	want := crypto.Keccak256(append(append([]byte{}, a...), b...))
	if got := (Keccak{}).Prove(a, b); !bytes.Equal(got, want) {
		t.Fatalf("proof mismatch")
	}
}

func TestMiMCDeterministic(t *testing.T) {
	a, b := []byte("MTAwMA=="), []byte("NQ==")
	p1 := MiMC{}.Prove(a, b)
	p2 := MiMC{}.Prove(a, b)
	if len(p1) != 32 || !bytes.Equal(p1, p2) {
		t.Fatalf("expected stable 32-byte digest")
	}
	if bytes.Equal(p1, MiMC{}.Prove(b, a)) {
		t.Fatalf("digest should depend on payload order")
	}
	long := bytes.Repeat([]byte{0xff}, 100)
	if len(MiMC{}.Prove(long)) != 32 {
		t.Fatalf("multi-block input should still digest")
	}
}

func TestProverByName(t *testing.T) {
	for name, want := range map[string]string{"": "keccak", "Keccak256": "keccak", "mimc": "mimc"} {
		p, err := ProverByName(name)
		if err != nil {
			t.Fatalf("ProverByName(%q): %v", name, err)
		}
		if p.Name() != want {
			t.Fatalf("ProverByName(%q) = %s", name, p.Name())
		}
	}
	if _, err := ProverByName("groth16"); err == nil {
		t.Fatalf("expected unknown scheme error")
	}
}
