// Package contracts holds the ABI definitions of the deployed VaultLend and
// FHEOperations contracts.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// VaultLendABI covers the loan lifecycle contract.
const VaultLendABI = `[
  {
    "inputs": [{"internalType": "address", "name": "_verifier", "type": "address"}],
    "stateMutability": "nonpayable",
    "type": "constructor"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "loanId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "borrower", "type": "address"},
      {"indexed": false, "internalType": "uint32", "name": "amount", "type": "uint32"}
    ],
    "name": "LoanCreated",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "bytes", "name": "amount", "type": "bytes"},
      {"internalType": "bytes", "name": "interestRate", "type": "bytes"},
      {"internalType": "bytes", "name": "duration", "type": "bytes"},
      {"internalType": "bytes", "name": "collateralValue", "type": "bytes"},
      {"internalType": "string", "name": "purpose", "type": "string"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "createLoan",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "loanId", "type": "uint256"},
      {"internalType": "uint256", "name": "poolId", "type": "uint256"},
      {"internalType": "bytes", "name": "amount", "type": "bytes"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "fundLoan",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "loanId", "type": "uint256"},
      {"internalType": "bytes", "name": "amount", "type": "bytes"},
      {"internalType": "bytes", "name": "interestAmount", "type": "bytes"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "repayLoan",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "loanId", "type": "uint256"}],
    "name": "getLoanInfo",
    "outputs": [
      {"internalType": "bytes", "name": "amount", "type": "bytes"},
      {"internalType": "bytes", "name": "interestRate", "type": "bytes"},
      {"internalType": "bytes", "name": "duration", "type": "bytes"},
      {"internalType": "bytes", "name": "collateralValue", "type": "bytes"},
      {"internalType": "bool", "name": "isActive", "type": "bool"},
      {"internalType": "bool", "name": "isRepaid", "type": "bool"},
      {"internalType": "address", "name": "borrower", "type": "address"},
      {"internalType": "address", "name": "lender", "type": "address"},
      {"internalType": "uint256", "name": "createdAt", "type": "uint256"},
      {"internalType": "uint256", "name": "dueDate", "type": "uint256"},
      {"internalType": "string", "name": "purpose", "type": "string"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

// FHEOperationsABI covers the arithmetic helper contract.
const FHEOperationsABI = `[
  {
    "inputs": [
      {"internalType": "bytes", "name": "a", "type": "bytes"},
      {"internalType": "bytes", "name": "b", "type": "bytes"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "fheAdd",
    "outputs": [{"internalType": "bytes", "name": "", "type": "bytes"}],
    "stateMutability": "pure",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes", "name": "a", "type": "bytes"},
      {"internalType": "bytes", "name": "b", "type": "bytes"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "fheMul",
    "outputs": [{"internalType": "bytes", "name": "", "type": "bytes"}],
    "stateMutability": "pure",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes", "name": "principal", "type": "bytes"},
      {"internalType": "bytes", "name": "rate", "type": "bytes"},
      {"internalType": "bytes", "name": "time", "type": "bytes"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "calculateSimpleInterest",
    "outputs": [{"internalType": "bytes", "name": "", "type": "bytes"}],
    "stateMutability": "pure",
    "type": "function"
  }
]`

const (
	EventLoanCreated = "LoanCreated"

	MethodCreateLoan        = "createLoan"
	MethodFundLoan          = "fundLoan"
	MethodRepayLoan         = "repayLoan"
	MethodGetLoanInfo       = "getLoanInfo"
	MethodFHEAdd            = "fheAdd"
	MethodFHEMul            = "fheMul"
	MethodCalculateInterest = "calculateSimpleInterest"
)

// ParseVaultLend returns the parsed loan lifecycle ABI.
func ParseVaultLend() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(VaultLendABI))
}

// ParseFHEOperations returns the parsed arithmetic ABI.
func ParseFHEOperations() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(FHEOperationsABI))
}
