package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// kalkiABI is the subset of the resolution contract the agent talks to.
const kalkiABI = `[
  {"type":"function","name":"submitResolution","stateMutability":"nonpayable",
   "inputs":[
     {"name":"requestId","type":"bytes32"},
     {"name":"outcome","type":"bool"},
     {"name":"confidence","type":"uint256"},
     {"name":"evidenceHash","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"getResolutionRequest","stateMutability":"view",
   "inputs":[{"name":"requestId","type":"bytes32"}],
   "outputs":[
     {"name":"marketId","type":"uint256"},
     {"name":"question","type":"string"},
     {"name":"category","type":"string"},
     {"name":"requestTime","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"requester","type":"address"},
     {"name":"fee","type":"uint256"},
     {"name":"status","type":"uint8"}]},
  {"type":"function","name":"getAgentStats","stateMutability":"view",
   "inputs":[{"name":"agent","type":"address"}],
   "outputs":[
     {"name":"stake","type":"uint256"},
     {"name":"reputation","type":"uint256"},
     {"name":"totalResolutions","type":"uint256"},
     {"name":"accuracy","type":"uint256"}]},
  {"type":"function","name":"registerAgent","stateMutability":"payable",
   "inputs":[],"outputs":[]},
  {"type":"event","name":"AgentSelected","anonymous":false,
   "inputs":[
     {"name":"requestId","type":"bytes32","indexed":true},
     {"name":"agent","type":"address","indexed":true},
     {"name":"selectionWeight","type":"uint256","indexed":false}]}
]`

const (
	methodSubmit     = "submitResolution"
	methodRequest    = "getResolutionRequest"
	methodAgentStats = "getAgentStats"
	methodRegister   = "registerAgent"
	eventSelected    = "AgentSelected"
)

var contractABI = mustParseABI(kalkiABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse contract abi: %v", err))
	}
	return parsed
}
