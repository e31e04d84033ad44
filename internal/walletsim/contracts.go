package walletsim

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"vaultlend/internal/contracts"
)

const secondsPerDay = 86400

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
)

func (w *Wallet) method(a abi.ABI, input []byte) (*abi.Method, []interface{}, error) {
	if len(input) < 4 {
		return nil, nil, reverted("missing selector")
	}
	m, err := a.MethodById(input[:4])
	if err != nil {
		return nil, nil, reverted("unknown selector")
	}
	args, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, reverted("bad calldata")
	}
	return m, args, nil
}

func (w *Wallet) verify(proof []byte, payloads ...[]byte) error {
	if !bytes.Equal(proof, w.opts.Prover.Prove(payloads...)) {
		return reverted("invalid input proof")
	}
	return nil
}

func (w *Wallet) decode(payload []byte) (decimal.Decimal, error) {
	v, err := w.opts.Codec.Decode(payload)
	if err != nil {
		return decimal.Decimal{}, reverted("malformed ciphertext")
	}
	return v, nil
}

// execLoan applies a state-changing VaultLend call. Caller holds w.mu.
func (w *Wallet) execLoan(from common.Address, input []byte) ([]*types.Log, error) {
	m, args, err := w.method(w.loanABI, input)
	if err != nil {
		return nil, err
	}

	switch m.Name {
	case contracts.MethodCreateLoan:
		amount, rate, dur, coll := args[0].([]byte), args[1].([]byte), args[2].([]byte), args[3].([]byte)
		purpose, proof := args[4].(string), args[5].([]byte)
		if err := w.verify(proof, amount, rate, dur, coll); err != nil {
			return nil, err
		}
		a, err := w.decode(amount)
		if err != nil {
			return nil, err
		}
		days, err := w.decode(dur)
		if err != nil {
			return nil, err
		}

		w.nextLoan++
		id := w.nextLoan
		now := uint64(w.opts.Now().Unix())
		w.loans[id] = &loan{
			amount: amount, rate: rate, duration: dur, collateral: coll,
			purpose:   purpose,
			borrower:  from,
			createdAt: now,
			dueDate:   now + uint64(days.IntPart())*secondsPerDay,
		}

		ev := w.loanABI.Events[contracts.EventLoanCreated]
		data, err := ev.Inputs.NonIndexed().Pack(uint32(a.IntPart()))
		if err != nil {
			return nil, reverted("event encoding")
		}
		return []*types.Log{{
			Topics: []common.Hash{
				ev.ID,
				common.BigToHash(new(big.Int).SetUint64(id)),
				common.BytesToHash(from.Bytes()),
			},
			Data: data,
		}}, nil

	case contracts.MethodFundLoan:
		id, amount, proof := args[0].(*big.Int), args[2].([]byte), args[3].([]byte)
		if err := w.verify(proof, amount); err != nil {
			return nil, err
		}
		l, ok := w.loans[id.Uint64()]
		if !ok || !id.IsUint64() {
			return nil, reverted("loan does not exist")
		}
		if l.active || l.repaid {
			return nil, reverted("loan already funded")
		}
		l.lender = from
		l.active = true
		return nil, nil

	case contracts.MethodRepayLoan:
		id, amount, interest, proof := args[0].(*big.Int), args[1].([]byte), args[2].([]byte), args[3].([]byte)
		if err := w.verify(proof, amount, interest); err != nil {
			return nil, err
		}
		l, ok := w.loans[id.Uint64()]
		if !ok || !id.IsUint64() {
			return nil, reverted("loan does not exist")
		}
		if !l.active {
			return nil, reverted("loan is not active")
		}
		l.active = false
		l.repaid = true
		return nil, nil
	}
	return nil, reverted("method is not payable here")
}

// viewLoan serves getLoanInfo. Caller holds w.mu.
func (w *Wallet) viewLoan(input []byte) ([]byte, error) {
	m, args, err := w.method(w.loanABI, input)
	if err != nil {
		return nil, err
	}
	if m.Name != contracts.MethodGetLoanInfo {
		return nil, reverted("not a view")
	}
	id := args[0].(*big.Int)
	l, ok := w.loans[id.Uint64()]
	if !ok || !id.IsUint64() {
		return nil, reverted("loan does not exist")
	}
	return m.Outputs.Pack(
		l.amount, l.rate, l.duration, l.collateral,
		l.active, l.repaid,
		l.borrower, l.lender,
		new(big.Int).SetUint64(l.createdAt), new(big.Int).SetUint64(l.dueDate),
		l.purpose,
	)
}

// execOps evaluates the FHEOperations helpers on decoded plaintext.
func (w *Wallet) execOps(input []byte) ([]byte, error) {
	m, args, err := w.method(w.opsABI, input)
	if err != nil {
		return nil, err
	}

	var result decimal.Decimal
	switch m.Name {
	case contracts.MethodFHEAdd, contracts.MethodFHEMul:
		ea, eb, proof := args[0].([]byte), args[1].([]byte), args[2].([]byte)
		if err := w.verify(proof, ea, eb); err != nil {
			return nil, err
		}
		a, err := w.decode(ea)
		if err != nil {
			return nil, err
		}
		b, err := w.decode(eb)
		if err != nil {
			return nil, err
		}
		if m.Name == contracts.MethodFHEAdd {
			result = a.Add(b)
		} else {
			result = a.Mul(b)
		}

	case contracts.MethodCalculateInterest:
		ep, er, et, proof := args[0].([]byte), args[1].([]byte), args[2].([]byte), args[3].([]byte)
		if err := w.verify(proof, ep, er, et); err != nil {
			return nil, err
		}
		p, err := w.decode(ep)
		if err != nil {
			return nil, err
		}
		r, err := w.decode(er)
		if err != nil {
			return nil, err
		}
		t, err := w.decode(et)
		if err != nil {
			return nil, err
		}
		result = SimpleInterest(p, r, t)

	default:
		return nil, reverted("unknown operation")
	}
	return m.Outputs.Pack(w.opts.Codec.Encode(result))
}

// SimpleInterest is principal * rate% * days / 365.
func SimpleInterest(principal, ratePercent, days decimal.Decimal) decimal.Decimal {
	return principal.Mul(ratePercent).Mul(days).Div(hundred.Mul(daysPerYear))
}
