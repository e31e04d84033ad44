package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidDraft     = fmt.Errorf("invalid loan draft: %w", ErrInvalidInput)
	ErrSubmissionFailed = errors.New("transaction submission failed")
	ErrCallFailed       = errors.New("contract call failed")
	ErrDecodeFailed     = errors.New("contract response could not be decoded")
)

// Supported range for amounts sent to the contracts: at most MaxDigits
// integer digits (uint256 fits in 78) and MaxScale fractional digits.
const (
	MaxDigits = 78
	MaxScale  = 18
)

// CheckAmount rejects values outside the supported range without
// expanding them.
func CheckAmount(name string, v decimal.Decimal) error {
	if reason := outOfRange(v); reason != "" {
		return fmt.Errorf("%w: %s %s", ErrInvalidInput, name, reason)
	}
	return nil
}

func outOfRange(v decimal.Decimal) string {
	exp := v.Exponent()
	if exp < -MaxScale {
		return fmt.Sprintf("has more than %d decimal places", MaxScale)
	}
	tooLong := fmt.Sprintf("exceeds %d digits", MaxDigits)
	if exp > MaxDigits {
		return tooLong
	}
	coef := v.Coefficient()
	// 4 bits per digit over-estimates log2(10), so this cut never rejects
	// an in-range value.
	if coef.BitLen() > 4*(MaxDigits+MaxScale) ||
		len(coef.Abs(coef).String())+int(exp) > MaxDigits {
		return tooLong
	}
	return ""
}

// LoanDraft is the borrower's form input. Amounts are plaintext until encoded.
type LoanDraft struct {
	Amount          decimal.Decimal `json:"amount"`
	InterestRate    decimal.Decimal `json:"interestRate"`
	DurationDays    decimal.Decimal `json:"durationDays"`
	CollateralValue decimal.Decimal `json:"collateralValue"`
	Purpose         string          `json:"purpose"`
}

func (d LoanDraft) Validate() error {
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"amount", d.Amount},
		{"interest rate", d.InterestRate},
		{"duration", d.DurationDays},
		{"collateral value", d.CollateralValue},
	} {
		if reason := outOfRange(f.v); reason != "" {
			return fmt.Errorf("%w: %s %s", ErrInvalidDraft, f.name, reason)
		}
	}
	switch {
	case !d.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidDraft)
	case d.InterestRate.IsNegative():
		return fmt.Errorf("%w: interest rate must not be negative", ErrInvalidDraft)
	case !d.DurationDays.IsPositive():
		return fmt.Errorf("%w: duration must be positive", ErrInvalidDraft)
	case d.CollateralValue.IsNegative():
		return fmt.Errorf("%w: collateral value must not be negative", ErrInvalidDraft)
	case strings.TrimSpace(d.Purpose) == "":
		return fmt.Errorf("%w: purpose is required", ErrInvalidDraft)
	}
	return nil
}

// Encoded is the contract-ready form of a draft.
type Encoded struct {
	Amount          []byte
	InterestRate    []byte
	Duration        []byte
	CollateralValue []byte
	Purpose         string
	Proof           []byte
}

// Preview is what the borrower form shows before submitting.
type Preview struct {
	Amount          string        `json:"amount"`
	InterestRate    string        `json:"interestRate"`
	Duration        string        `json:"duration"`
	CollateralValue string        `json:"collateralValue"`
	Proof           hexutil.Bytes `json:"proof"`
	ProofScheme     string        `json:"proofScheme"`
}

// LoanInfo mirrors getLoanInfo's return tuple. The numeric terms are the
// payloads stored on chain.
type LoanInfo struct {
	Amount          hexutil.Bytes  `json:"amount"`
	InterestRate    hexutil.Bytes  `json:"interestRate"`
	Duration        hexutil.Bytes  `json:"duration"`
	CollateralValue hexutil.Bytes  `json:"collateralValue"`
	IsActive        bool           `json:"isActive"`
	IsRepaid        bool           `json:"isRepaid"`
	Borrower        common.Address `json:"borrower"`
	Lender          common.Address `json:"lender"`
	CreatedAt       *big.Int       `json:"createdAt"`
	DueDate         *big.Int       `json:"dueDate"`
	Purpose         string         `json:"purpose"`
}

// LoanCreated is one decoded LoanCreated log.
type LoanCreated struct {
	LoanID      *big.Int       `json:"loanId"`
	Borrower    common.Address `json:"borrower"`
	Amount      uint32         `json:"amount"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
}

// TxResult summarises a mined transaction.
type TxResult struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
}

type CreatedLoan struct {
	TxResult
	Event LoanCreated `json:"event"`
}

// loanCreatedLog is the UnpackLog target; field names follow the ABI.
type loanCreatedLog struct {
	LoanId   *big.Int
	Borrower common.Address
	Amount   uint32
}

func validLoanID(id *big.Int) error {
	if id == nil || id.Sign() < 0 {
		return fmt.Errorf("%w: loan id must be a non-negative integer", ErrInvalidInput)
	}
	return nil
}
