package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"vaultlend/internal/notice"
	"vaultlend/internal/wallet"
)

type stubClient struct {
	Client
	err     error
	during  func()
	created CreatedLoan
	conn    wallet.Conn
}

func (s *stubClient) CreateLoan(context.Context, LoanDraft) (CreatedLoan, error) {
	if s.during != nil {
		s.during()
	}
	return s.created, s.err
}

func (s *stubClient) CreateLoanAs(_ context.Context, conn wallet.Conn, _ LoanDraft) (CreatedLoan, error) {
	s.conn = conn
	return s.created, s.err
}

func (s *stubClient) RepayLoan(context.Context, *big.Int, decimal.Decimal, decimal.Decimal) (TxResult, error) {
	return TxResult{}, s.err
}

func (s *stubClient) FHEAdd(context.Context, decimal.Decimal, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.NewFromInt(3), s.err
}

func TestHookPostsSuccessNotice(t *testing.T) {
	board := notice.NewBoard(0, 0)
	stub := &stubClient{}
	h := NewHook(stub, board)

	var loadingDuring bool
	stub.during = func() { loadingDuring = h.Loading() }

	if _, err := h.CreateLoan(context.Background(), draft()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !loadingDuring {
		t.Fatalf("expected loading while the call runs")
	}
	if h.Loading() {
		t.Fatalf("loading should clear after the call")
	}

	active := board.Active()
	if len(active) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(active))
	}
	if active[0].Level != notice.LevelSuccess || active[0].Message != "Encrypted loan created successfully!" {
		t.Fatalf("unexpected notice %+v", active[0])
	}
}

func TestHookPostsFailureNotice(t *testing.T) {
	board := notice.NewBoard(0, 0)
	h := NewHook(&stubClient{err: errors.New("execution reverted")}, board)

	if _, err := h.RepayLoan(context.Background(), big.NewInt(1), decimal.NewFromInt(1), decimal.Zero); err == nil {
		t.Fatalf("expected error to pass through")
	}
	active := board.Active()
	if len(active) != 1 || active[0].Level != notice.LevelError {
		t.Fatalf("unexpected notices %+v", active)
	}
	if active[0].Message != "Failed to repay loan: execution reverted" {
		t.Fatalf("unexpected message %q", active[0].Message)
	}
}

func TestHookReadSuccessIsSilent(t *testing.T) {
	board := notice.NewBoard(0, 0)
	h := NewHook(&stubClient{}, board)

	if _, err := h.FHEAdd(context.Background(), decimal.NewFromInt(1), decimal.NewFromInt(2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if n := len(board.Active()); n != 0 {
		t.Fatalf("expected no notices, got %d", n)
	}
}

func TestHookCreateLoanAsPassesConnection(t *testing.T) {
	board := notice.NewBoard(0, 0)
	stub := &stubClient{err: errors.New("no LoanCreated event")}
	h := NewHook(stub, board)

	conn := wallet.Conn{Account: borrower, ChainID: wallet.SepoliaChainID}
	if _, err := h.CreateLoanAs(context.Background(), conn, draft()); err == nil {
		t.Fatalf("expected error to pass through")
	}
	if stub.conn != conn {
		t.Fatalf("connection not passed through: %+v", stub.conn)
	}
	active := board.Active()
	if len(active) != 1 || active[0].Message != "Failed to create loan: no LoanCreated event" {
		t.Fatalf("unexpected notices %+v", active)
	}
}
