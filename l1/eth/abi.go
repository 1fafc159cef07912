package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	commitMethod         = "commit"
	commitIntervalMethod = "BLOCKS_PER_COMMIT_INTERVAL"
	commitSubmittedEvent = "CommitSubmitted"
)

const stateContractABI = `[
  {
    "type": "function",
    "name": "commit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "blockHash", "type": "bytes32"},
      {"name": "commitHeight", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "BLOCKS_PER_COMMIT_INTERVAL",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "CommitSubmitted",
    "anonymous": false,
    "inputs": [
      {"name": "commitHeight", "type": "uint256", "indexed": true},
      {"name": "blockHash", "type": "bytes32", "indexed": false}
    ]
  }
]`

// StateContractABI returns the parsed ABI of the state contract.
func StateContractABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(stateContractABI))
}
