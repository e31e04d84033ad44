package lending

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"vaultlend/internal/notice"
	"vaultlend/internal/wallet"
)

// Notifier receives the user-facing outcome of each operation.
type Notifier interface {
	Success(message string) notice.Notice
	Error(message string) notice.Notice
}

// Hook wraps a Client with a loading indicator and outcome notices.
type Hook struct {
	svc     Client
	notes   Notifier
	pending atomic.Int64
}

var _ Client = (*Hook)(nil)

func NewHook(svc Client, notes Notifier) *Hook {
	return &Hook{svc: svc, notes: notes}
}

// Loading reports whether any wrapped operation is in flight.
func (h *Hook) Loading() bool {
	return h.pending.Load() > 0
}

func (h *Hook) begin() func() {
	h.pending.Add(1)
	return func() { h.pending.Add(-1) }
}

func (h *Hook) outcome(err error, success, failure string) {
	if h.notes == nil {
		return
	}
	if err != nil {
		h.notes.Error(failure + ": " + err.Error())
		return
	}
	if success != "" {
		h.notes.Success(success)
	}
}

func (h *Hook) CreateLoan(ctx context.Context, draft LoanDraft) (CreatedLoan, error) {
	defer h.begin()()
	res, err := h.svc.CreateLoan(ctx, draft)
	h.outcome(err, "Encrypted loan created successfully!", "Failed to create loan")
	return res, err
}

func (h *Hook) CreateLoanAs(ctx context.Context, conn wallet.Conn, draft LoanDraft) (CreatedLoan, error) {
	defer h.begin()()
	res, err := h.svc.CreateLoanAs(ctx, conn, draft)
	h.outcome(err, "Encrypted loan created successfully!", "Failed to create loan")
	return res, err
}

func (h *Hook) FundLoan(ctx context.Context, loanID, poolID *big.Int, amount decimal.Decimal) (TxResult, error) {
	defer h.begin()()
	res, err := h.svc.FundLoan(ctx, loanID, poolID, amount)
	h.outcome(err, "Loan funded successfully!", "Failed to fund loan")
	return res, err
}

func (h *Hook) RepayLoan(ctx context.Context, loanID *big.Int, amount, interest decimal.Decimal) (TxResult, error) {
	defer h.begin()()
	res, err := h.svc.RepayLoan(ctx, loanID, amount, interest)
	h.outcome(err, "Loan repaid successfully!", "Failed to repay loan")
	return res, err
}

func (h *Hook) GetLoanInfo(ctx context.Context, loanID *big.Int) (LoanInfo, error) {
	defer h.begin()()
	res, err := h.svc.GetLoanInfo(ctx, loanID)
	h.outcome(err, "", "Failed to get loan info")
	return res, err
}

func (h *Hook) FHEAdd(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error) {
	defer h.begin()()
	res, err := h.svc.FHEAdd(ctx, a, b)
	h.outcome(err, "", "FHE addition failed")
	return res, err
}

func (h *Hook) FHEMul(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error) {
	defer h.begin()()
	res, err := h.svc.FHEMul(ctx, a, b)
	h.outcome(err, "", "FHE multiplication failed")
	return res, err
}

func (h *Hook) CalculateSimpleInterest(ctx context.Context, principal, rate, days decimal.Decimal) (decimal.Decimal, error) {
	defer h.begin()()
	res, err := h.svc.CalculateSimpleInterest(ctx, principal, rate, days)
	h.outcome(err, "Interest calculated successfully!", "Interest calculation failed")
	return res, err
}

func (h *Hook) LoanCreatedEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]LoanCreated, error) {
	defer h.begin()()
	res, err := h.svc.LoanCreatedEvents(ctx, fromBlock, toBlock)
	h.outcome(err, "", "Failed to get loan events")
	return res, err
}

// Preview runs locally and posts no notice.
func (h *Hook) Preview(draft LoanDraft) (Preview, error) {
	return h.svc.Preview(draft)
}
