package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultlend/internal/idempotency"
	"vaultlend/internal/lending"
)

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Checked up front so a disconnected view gets the connect prompt
	// before any body validation.
	conn, err := s.wallet.Active()
	if err != nil {
		s.writeError(w, err)
		return
	}

	var draft lending.LoanDraft
	if err := decodeBody(r, &draft); err != nil {
		s.writeError(w, err)
		return
	}

	var key string
	if raw := strings.TrimSpace(r.Header.Get(headerIdempotency)); raw != "" {
		key = idempotency.ScopedKey(conn.Account.Hex(), raw)
		unlock := s.locks.Lock(key)
		defer unlock()

		existing, err := s.store.Get(ctx, key)
		if err != nil {
			s.log.Warn("idempotency lookup", zap.Error(err))
		}
		if existing != nil {
			s.metrics.incReplay()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplay, "true")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
			return
		}
	}

	started := time.Now()
	created, err := s.loans.CreateLoanAs(ctx, conn, draft)
	s.metrics.observeCall("createLoan", started, err)
	status := http.StatusCreated
	var b []byte
	switch {
	case err == nil:
		b, _ = json.Marshal(created)
	case created.TxHash != (common.Hash{}):
		// Mined but unreadable: the outcome is still recorded so a retry
		// with the same key cannot submit a second loan.
		var resp errorResponse
		status, resp = classify(err)
		resp.TxHash = created.TxHash.Hex()
		s.log.Warn("loan mined without a readable result", zap.String("tx", resp.TxHash), zap.Error(err))
		b, _ = json.Marshal(resp)
	default:
		s.writeError(w, err)
		return
	}

	if key != "" {
		now := time.Now()
		record := idempotency.Record{
			Account:    conn.Account.Hex(),
			StatusCode: status,
			Response:   b,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.IdempotencyWindow),
		}
		if err := s.store.Save(ctx, key, record); err != nil {
			s.log.Warn("idempotency save", zap.String("tx", created.TxHash.Hex()), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var draft lending.LoanDraft
	if err := decodeBody(r, &draft); err != nil {
		s.writeError(w, err)
		return
	}
	preview, err := s.loans.Preview(draft)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleLoanEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from uint64
	if v := q.Get("fromBlock"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: fromBlock must be a block number", errBadRequest))
			return
		}
		from = n
	}
	var to *uint64
	if v := q.Get("toBlock"); v != "" && v != "latest" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: toBlock must be a block number or latest", errBadRequest))
			return
		}
		to = &n
	}

	started := time.Now()
	events, err := s.loans.LoanCreatedEvents(r.Context(), from, to)
	s.metrics.observeCall("loanCreatedEvents", started, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []lending.LoanCreated{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleLoanInfo(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	started := time.Now()
	info, err := s.loans.GetLoanInfo(r.Context(), id)
	s.metrics.observeCall("getLoanInfo", started, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type fundRequest struct {
	PoolID json.Number     `json:"poolId"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleFundLoan(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	pool := new(big.Int)
	if req.PoolID != "" {
		if _, ok := pool.SetString(req.PoolID.String(), 10); !ok {
			s.writeError(w, fmt.Errorf("%w: poolId must be an integer", errBadRequest))
			return
		}
	}

	started := time.Now()
	res, err := s.loans.FundLoan(r.Context(), id, pool, req.Amount)
	s.metrics.observeCall("fundLoan", started, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type repayRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	InterestAmount decimal.Decimal `json:"interestAmount"`
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req repayRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	started := time.Now()
	res, err := s.loans.RepayLoan(r.Context(), id, req.Amount, req.InterestAmount)
	s.metrics.observeCall("repayLoan", started, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type operandsRequest struct {
	A decimal.Decimal `json:"a"`
	B decimal.Decimal `json:"b"`
}

type resultResponse struct {
	Result decimal.Decimal `json:"result"`
}

func (s *Server) handleFHEAdd(w http.ResponseWriter, r *http.Request) {
	s.binaryOp(w, r, "fheAdd", s.loans.FHEAdd)
}

func (s *Server) handleFHEMul(w http.ResponseWriter, r *http.Request) {
	s.binaryOp(w, r, "fheMul", s.loans.FHEMul)
}

func (s *Server) binaryOp(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	op func(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error),
) {
	var req operandsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	started := time.Now()
	result, err := op(r.Context(), req.A, req.B)
	s.metrics.observeCall(operation, started, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: result})
}

type interestRequest struct {
	Principal decimal.Decimal `json:"principal"`
	Rate      decimal.Decimal `json:"rate"`
	Time      decimal.Decimal `json:"time"`
}

func (s *Server) handleInterest(w http.ResponseWriter, r *http.Request) {
	var req interestRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	started := time.Now()
	result, err := s.loans.CalculateSimpleInterest(r.Context(), req.Principal, req.Rate, req.Time)
	s.metrics.observeCall("calculateSimpleInterest", started, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: result})
}

func loanID(r *http.Request) (*big.Int, error) {
	raw := r.PathValue("id")
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%w: loan id %q must be a non-negative integer", errBadRequest, raw)
	}
	return id, nil
}
