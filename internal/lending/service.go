// Package lending builds and submits the VaultLend contract calls on behalf
// of the connected wallet session.
package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultlend/internal/contracts"
	"vaultlend/internal/sealed"
	"vaultlend/internal/wallet"
)

const (
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
)

// Sessions hands out the connection a single call runs against.
type Sessions interface {
	Active() (wallet.Conn, error)
}

// Client is the set of contract operations the views use.
type Client interface {
	CreateLoan(ctx context.Context, draft LoanDraft) (CreatedLoan, error)
	CreateLoanAs(ctx context.Context, conn wallet.Conn, draft LoanDraft) (CreatedLoan, error)
	FundLoan(ctx context.Context, loanID, poolID *big.Int, amount decimal.Decimal) (TxResult, error)
	RepayLoan(ctx context.Context, loanID *big.Int, amount, interest decimal.Decimal) (TxResult, error)
	GetLoanInfo(ctx context.Context, loanID *big.Int) (LoanInfo, error)
	FHEAdd(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error)
	FHEMul(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error)
	CalculateSimpleInterest(ctx context.Context, principal, rate, days decimal.Decimal) (decimal.Decimal, error)
	LoanCreatedEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]LoanCreated, error)
	Preview(draft LoanDraft) (Preview, error)
}

type Config struct {
	LoanContract common.Address
	OpsContract  common.Address
	Codec        sealed.Codec
	Prover       sealed.Prover
	// ReceiptTimeout bounds the wait for a submitted transaction to be mined.
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// ContractService talks to VaultLend and FHEOperations through whatever
// wallet session is active when each call starts.
type ContractService struct {
	cfg      Config
	sessions Sessions
	log      *zap.Logger
	loanABI  abi.ABI
	opsABI   abi.ABI
}

var _ Client = (*ContractService)(nil)

func NewContractService(cfg Config, sessions Sessions, log *zap.Logger) (*ContractService, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session source is required")
	}
	if cfg.LoanContract == (common.Address{}) {
		return nil, fmt.Errorf("loan contract address is required")
	}
	if cfg.OpsContract == (common.Address{}) {
		return nil, fmt.Errorf("fhe operations address is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = sealed.Base64{}
	}
	if cfg.Prover == nil {
		cfg.Prover = sealed.Keccak{}
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}

	loanABI, err := contracts.ParseVaultLend()
	if err != nil {
		return nil, fmt.Errorf("parse loan abi: %w", err)
	}
	opsABI, err := contracts.ParseFHEOperations()
	if err != nil {
		return nil, fmt.Errorf("parse ops abi: %w", err)
	}
	return &ContractService{
		cfg:      cfg,
		sessions: sessions,
		log:      log.Named("lending"),
		loanABI:  loanABI,
		opsABI:   opsABI,
	}, nil
}

// Encode validates a draft and produces its payloads and input proof.
func (c *ContractService) Encode(draft LoanDraft) (Encoded, error) {
	if err := draft.Validate(); err != nil {
		return Encoded{}, err
	}
	e := Encoded{
		Amount:          c.cfg.Codec.Encode(draft.Amount),
		InterestRate:    c.cfg.Codec.Encode(draft.InterestRate),
		Duration:        c.cfg.Codec.Encode(draft.DurationDays),
		CollateralValue: c.cfg.Codec.Encode(draft.CollateralValue),
		Purpose:         draft.Purpose,
	}
	e.Proof = c.cfg.Prover.Prove(e.Amount, e.InterestRate, e.Duration, e.CollateralValue)
	return e, nil
}

func (c *ContractService) Preview(draft LoanDraft) (Preview, error) {
	e, err := c.Encode(draft)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Amount:          string(e.Amount),
		InterestRate:    string(e.InterestRate),
		Duration:        string(e.Duration),
		CollateralValue: string(e.CollateralValue),
		Proof:           e.Proof,
		ProofScheme:     c.cfg.Prover.Name(),
	}, nil
}

func (c *ContractService) CreateLoan(ctx context.Context, draft LoanDraft) (CreatedLoan, error) {
	conn, err := c.sessions.Active()
	if err != nil {
		return CreatedLoan{}, err
	}
	return c.CreateLoanAs(ctx, conn, draft)
}

// CreateLoanAs submits the draft from a connection the caller already
// captured. Once the transaction is mined the returned TxResult is set even if
// the LoanCreated event cannot be decoded.
func (c *ContractService) CreateLoanAs(ctx context.Context, conn wallet.Conn, draft LoanDraft) (CreatedLoan, error) {
	e, err := c.Encode(draft)
	if err != nil {
		return CreatedLoan{}, err
	}

	input, err := c.loanABI.Pack(contracts.MethodCreateLoan,
		e.Amount, e.InterestRate, e.Duration, e.CollateralValue, e.Purpose, e.Proof)
	if err != nil {
		return CreatedLoan{}, fmt.Errorf("pack createLoan: %w", err)
	}
	receipt, err := c.submit(ctx, conn, c.cfg.LoanContract, input)
	if err != nil {
		return CreatedLoan{}, err
	}

	ev, err := c.loanCreatedFrom(receipt)
	if err != nil {
		c.log.Warn("loan created without a readable event", zap.Stringer("tx", receipt.TxHash), zap.Error(err))
		return CreatedLoan{TxResult: resultOf(receipt)}, err
	}
	c.log.Info("loan created",
		zap.Stringer("loanId", ev.LoanID),
		zap.Stringer("borrower", ev.Borrower),
		zap.Stringer("tx", receipt.TxHash))
	return CreatedLoan{TxResult: resultOf(receipt), Event: ev}, nil
}

func (c *ContractService) FundLoan(ctx context.Context, loanID, poolID *big.Int, amount decimal.Decimal) (TxResult, error) {
	conn, err := c.sessions.Active()
	if err != nil {
		return TxResult{}, err
	}
	if err := validLoanID(loanID); err != nil {
		return TxResult{}, err
	}
	if poolID == nil || poolID.Sign() < 0 {
		return TxResult{}, fmt.Errorf("%w: pool id must be a non-negative integer", ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return TxResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if err := CheckAmount("amount", amount); err != nil {
		return TxResult{}, err
	}

	enc := c.cfg.Codec.Encode(amount)
	input, err := c.loanABI.Pack(contracts.MethodFundLoan, loanID, poolID, enc, c.cfg.Prover.Prove(enc))
	if err != nil {
		return TxResult{}, fmt.Errorf("pack fundLoan: %w", err)
	}
	receipt, err := c.submit(ctx, conn, c.cfg.LoanContract, input)
	if err != nil {
		return TxResult{}, err
	}
	c.log.Info("loan funded", zap.Stringer("loanId", loanID), zap.Stringer("tx", receipt.TxHash))
	return resultOf(receipt), nil
}

func (c *ContractService) RepayLoan(ctx context.Context, loanID *big.Int, amount, interest decimal.Decimal) (TxResult, error) {
	conn, err := c.sessions.Active()
	if err != nil {
		return TxResult{}, err
	}
	if err := validLoanID(loanID); err != nil {
		return TxResult{}, err
	}
	if !amount.IsPositive() || interest.IsNegative() {
		return TxResult{}, fmt.Errorf("%w: repayment amounts out of range", ErrInvalidInput)
	}
	if err := CheckAmount("amount", amount); err != nil {
		return TxResult{}, err
	}
	if err := CheckAmount("interest", interest); err != nil {
		return TxResult{}, err
	}

	encAmount, encInterest := c.cfg.Codec.Encode(amount), c.cfg.Codec.Encode(interest)
	input, err := c.loanABI.Pack(contracts.MethodRepayLoan,
		loanID, encAmount, encInterest, c.cfg.Prover.Prove(encAmount, encInterest))
	if err != nil {
		return TxResult{}, fmt.Errorf("pack repayLoan: %w", err)
	}
	receipt, err := c.submit(ctx, conn, c.cfg.LoanContract, input)
	if err != nil {
		return TxResult{}, err
	}
	c.log.Info("loan repaid", zap.Stringer("loanId", loanID), zap.Stringer("tx", receipt.TxHash))
	return resultOf(receipt), nil
}

func (c *ContractService) GetLoanInfo(ctx context.Context, loanID *big.Int) (LoanInfo, error) {
	conn, err := c.sessions.Active()
	if err != nil {
		return LoanInfo{}, err
	}
	if err := validLoanID(loanID); err != nil {
		return LoanInfo{}, err
	}

	out, err := c.call(ctx, conn, c.cfg.LoanContract, c.loanABI, contracts.MethodGetLoanInfo, loanID)
	if err != nil {
		return LoanInfo{}, err
	}
	info, err := loanInfoFrom(out)
	if err != nil {
		return LoanInfo{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return info, nil
}

func (c *ContractService) FHEAdd(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error) {
	return c.arith(ctx, contracts.MethodFHEAdd, a, b)
}

func (c *ContractService) FHEMul(ctx context.Context, a, b decimal.Decimal) (decimal.Decimal, error) {
	return c.arith(ctx, contracts.MethodFHEMul, a, b)
}

func (c *ContractService) CalculateSimpleInterest(ctx context.Context, principal, rate, days decimal.Decimal) (decimal.Decimal, error) {
	return c.arith(ctx, contracts.MethodCalculateInterest, principal, rate, days)
}

// arith encodes operands, appends their proof, and decodes the single
// payload the FHEOperations contract returns.
func (c *ContractService) arith(ctx context.Context, method string, operands ...decimal.Decimal) (decimal.Decimal, error) {
	conn, err := c.sessions.Active()
	if err != nil {
		return decimal.Decimal{}, err
	}

	enc := make([][]byte, len(operands))
	args := make([]interface{}, 0, len(operands)+1)
	for i, v := range operands {
		if err := CheckAmount(fmt.Sprintf("operand %d", i+1), v); err != nil {
			return decimal.Decimal{}, err
		}
		enc[i] = c.cfg.Codec.Encode(v)
		args = append(args, enc[i])
	}
	args = append(args, c.cfg.Prover.Prove(enc...))

	out, err := c.call(ctx, conn, c.cfg.OpsContract, c.opsABI, method, args...)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(out) != 1 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s returned %d values", ErrDecodeFailed, method, len(out))
	}
	payload, ok := out[0].([]byte)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s returned %T", ErrDecodeFailed, method, out[0])
	}
	v, err := c.cfg.Codec.Decode(payload)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return v, nil
}

// LoanCreatedEvents lists LoanCreated logs in the order the node returns
// them. A nil toBlock means the latest block.
func (c *ContractService) LoanCreatedEvents(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]LoanCreated, error) {
	conn, err := c.sessions.Active()
	if err != nil {
		return nil, err
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.cfg.LoanContract},
		Topics:    [][]common.Hash{{c.loanABI.Events[contracts.EventLoanCreated].ID}},
	}
	if toBlock != nil {
		q.ToBlock = new(big.Int).SetUint64(*toBlock)
	}

	eth := ethclient.NewClient(conn.Client)
	logs, err := eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs: %v", ErrCallFailed, err)
	}

	bound := bind.NewBoundContract(c.cfg.LoanContract, c.loanABI, eth, eth, eth)
	out := make([]LoanCreated, 0, len(logs))
	for _, l := range logs {
		ev, err := unpackLoanCreated(bound, l)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (c *ContractService) call(ctx context.Context, conn wallet.Conn, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	from := conn.Account
	eth := ethclient.NewClient(conn.Client)
	raw, err := eth.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: input}, nil)
	if err != nil {
		c.log.Warn("contract call failed", zap.String("method", method), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrCallFailed, method, err)
	}
	out, err := a.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, method, err)
	}
	return out, nil
}

// submit asks the wallet to sign and send the transaction, then waits for it
// to be mined successfully.
func (c *ContractService) submit(ctx context.Context, conn wallet.Conn, to common.Address, input []byte) (*types.Receipt, error) {
	tx := map[string]interface{}{
		"from": conn.Account,
		"to":   to,
		"data": hexutil.Bytes(input),
	}
	var hash common.Hash
	if err := conn.Client.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		c.log.Warn("send transaction failed", zap.Stringer("from", conn.Account), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := WaitForReceipt(waitCtx, ethclient.NewClient(conn.Client), hash, c.cfg.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", ErrSubmissionFailed, hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", ErrSubmissionFailed, hash.Hex())
	}
	return receipt, nil
}

func (c *ContractService) loanCreatedFrom(receipt *types.Receipt) (LoanCreated, error) {
	id := c.loanABI.Events[contracts.EventLoanCreated].ID
	bound := bind.NewBoundContract(c.cfg.LoanContract, c.loanABI, nil, nil, nil)

	var found []LoanCreated
	for _, l := range receipt.Logs {
		if l.Address != c.cfg.LoanContract || len(l.Topics) == 0 || l.Topics[0] != id {
			continue
		}
		ev, err := unpackLoanCreated(bound, *l)
		if err != nil {
			return LoanCreated{}, err
		}
		found = append(found, ev)
	}
	if len(found) != 1 {
		return LoanCreated{}, fmt.Errorf("%w: expected one %s event, got %d", ErrDecodeFailed, contracts.EventLoanCreated, len(found))
	}
	return found[0], nil
}

func unpackLoanCreated(bound *bind.BoundContract, l types.Log) (LoanCreated, error) {
	var raw loanCreatedLog
	if err := bound.UnpackLog(&raw, contracts.EventLoanCreated, l); err != nil {
		return LoanCreated{}, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, contracts.EventLoanCreated, err)
	}
	return LoanCreated{
		LoanID:      raw.LoanId,
		Borrower:    raw.Borrower,
		Amount:      raw.Amount,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
	}, nil
}

func loanInfoFrom(out []interface{}) (LoanInfo, error) {
	if len(out) != 11 {
		return LoanInfo{}, fmt.Errorf("expected 11 values, got %d", len(out))
	}
	var (
		info LoanInfo
		ok   = true
		take = func(v interface{}, dst interface{}) {
			if !ok {
				return
			}
			switch d := dst.(type) {
			case *hexutil.Bytes:
				b, isBytes := v.([]byte)
				*d, ok = b, isBytes
			case *bool:
				*d, ok = v.(bool)
			case *common.Address:
				*d, ok = v.(common.Address)
			case **big.Int:
				*d, ok = v.(*big.Int)
			case *string:
				*d, ok = v.(string)
			}
		}
	)
	take(out[0], &info.Amount)
	take(out[1], &info.InterestRate)
	take(out[2], &info.Duration)
	take(out[3], &info.CollateralValue)
	take(out[4], &info.IsActive)
	take(out[5], &info.IsRepaid)
	take(out[6], &info.Borrower)
	take(out[7], &info.Lender)
	take(out[8], &info.CreatedAt)
	take(out[9], &info.DueDate)
	take(out[10], &info.Purpose)
	if !ok {
		return LoanInfo{}, errors.New("unexpected value types")
	}
	return info, nil
}

func resultOf(r *types.Receipt) TxResult {
	res := TxResult{TxHash: r.TxHash, GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		res.BlockNumber = r.BlockNumber.Uint64()
	}
	return res
}
