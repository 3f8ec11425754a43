package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EscrowABIJSON is the interface of the deployed project manager program.
const EscrowABIJSON = `[
  {"type":"function","name":"createProject","stateMutability":"payable",
   "inputs":[{"name":"provider","type":"address"},{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"projectId","type":"uint256"}]},
  {"type":"function","name":"approveProject","stateMutability":"nonpayable",
   "inputs":[{"name":"projectId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rejectProject","stateMutability":"nonpayable",
   "inputs":[{"name":"projectId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"markProjectCompleted","stateMutability":"nonpayable",
   "inputs":[{"name":"projectId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getProject","stateMutability":"view",
   "inputs":[{"name":"projectId","type":"uint256"}],
   "outputs":[{"name":"client","type":"address"},{"name":"provider","type":"address"},{"name":"amount","type":"uint256"},{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"deadline","type":"uint256"},{"name":"status","type":"uint8"}]},
  {"type":"function","name":"getProjectsCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"count","type":"uint256"}]},
  {"type":"event","name":"ProjectCreated","anonymous":false,
   "inputs":[{"name":"projectId","type":"uint256","indexed":true},{"name":"client","type":"address","indexed":true},{"name":"provider","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"title","type":"string","indexed":false},{"name":"description","type":"string","indexed":false},{"name":"deadline","type":"uint256","indexed":false}]}
]`

// ReputationABIJSON is the interface of the deployed reputation program.
const ReputationABIJSON = `[
  {"type":"function","name":"submitRating","stateMutability":"nonpayable",
   "inputs":[{"name":"provider","type":"address"},{"name":"score","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"getAverageRating","stateMutability":"view",
   "inputs":[{"name":"provider","type":"address"}],
   "outputs":[{"name":"numerator","type":"uint256"},{"name":"denominator","type":"uint256"}]},
  {"type":"function","name":"hasInteracted","stateMutability":"view",
   "inputs":[{"name":"client","type":"address"},{"name":"provider","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"RatingSubmitted","anonymous":false,
   "inputs":[{"name":"rater","type":"address","indexed":true},{"name":"provider","type":"address","indexed":true},{"name":"rating","type":"uint8","indexed":false}]}
]`

// Program method and event names.
const (
	MethodCreateProject    = "createProject"
	MethodApproveProject   = "approveProject"
	MethodRejectProject    = "rejectProject"
	MethodMarkCompleted    = "markProjectCompleted"
	MethodGetProject       = "getProject"
	MethodGetProjectsCount = "getProjectsCount"
	EventProjectCreated    = "ProjectCreated"

	MethodSubmitRating     = "submitRating"
	MethodGetAverageRating = "getAverageRating"
	MethodHasInteracted    = "hasInteracted"
	EventRatingSubmitted   = "RatingSubmitted"
)

var (
	// EscrowABI is the parsed escrow interface.
	EscrowABI = mustParseABI("escrow", EscrowABIJSON)
	// ReputationABI is the parsed reputation interface.
	ReputationABI = mustParseABI("reputation", ReputationABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
