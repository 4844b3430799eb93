package orderstandard

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABI JSON definitions for the three ERC-7683 entry points this repo
// speaks, hand-built from JSON strings rather than abigen bindings:
// there is no generated binding for a solver-side, standard-agnostic
// input/output settler.
const outputComponentsJSON = `
	{"name":"token","type":"bytes32"},
	{"name":"amount","type":"uint256"},
	{"name":"recipient","type":"bytes32"},
	{"name":"chainId","type":"uint256"}
`

const mandateOutputComponentsJSON = `
	{"name":"oracle","type":"bytes32"},
	{"name":"settler","type":"bytes32"},
	{"name":"chainId","type":"uint256"},
	{"name":"token","type":"bytes32"},
	{"name":"amount","type":"uint256"},
	{"name":"recipient","type":"bytes32"},
	{"name":"call","type":"bytes"},
	{"name":"context","type":"bytes"}
`

var openEventABI = mustParseABI(`[{
	"type": "event",
	"name": "Open",
	"anonymous": false,
	"inputs": [
		{"name": "orderId", "type": "bytes32", "indexed": true},
		{"name": "order", "type": "tuple", "indexed": false, "components": [
			{"name": "user", "type": "address"},
			{"name": "originChainId", "type": "uint256"},
			{"name": "openDeadline", "type": "uint32"},
			{"name": "fillDeadline", "type": "uint32"},
			{"name": "orderId", "type": "bytes32"},
			{"name": "maxSpent", "type": "tuple[]", "components": [` + outputComponentsJSON + `]},
			{"name": "minReceived", "type": "tuple[]", "components": [` + outputComponentsJSON + `]},
			{"name": "fillInstructions", "type": "tuple[]", "components": [
				{"name": "destinationChainId", "type": "uint64"},
				{"name": "destinationSettler", "type": "bytes32"},
				{"name": "originData", "type": "bytes"}
			]}
		]}
	]
}]`)

var fillABI = mustParseABI(`[{
	"type": "function",
	"name": "fill",
	"stateMutability": "payable",
	"inputs": [
		{"name": "orderId", "type": "bytes32"},
		{"name": "originData", "type": "bytes"},
		{"name": "fillerData", "type": "bytes"}
	],
	"outputs": []
}]`)

var finaliseSelfABI = mustParseABI(`[{
	"type": "function",
	"name": "finaliseSelf",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "order", "type": "tuple", "components": [
			{"name": "user", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "originChainId", "type": "uint256"},
			{"name": "expires", "type": "uint32"},
			{"name": "fillDeadline", "type": "uint32"},
			{"name": "oracle", "type": "address"},
			{"name": "inputs", "type": "uint256[2][]"},
			{"name": "outputs", "type": "tuple[]", "components": [` + mandateOutputComponentsJSON + `]}
		]},
		{"name": "timestamps", "type": "uint32[]"},
		{"name": "solver", "type": "bytes32"}
	],
	"outputs": []
}]`)

// mandateOutputArgs packs/unpacks a bare MandateOutput tuple on its own,
// i.e. abi.encode(MandateOutput) with no function selector and no
// surrounding argument list — exactly the bytes fill()'s originData
// parameter expects.
var mandateOutputArgs = mustMandateOutputArgs()

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("orderstandard: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

func mustMandateOutputArgs() abi.Arguments {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "oracle", Type: "bytes32"},
		{Name: "settler", Type: "bytes32"},
		{Name: "chainId", Type: "uint256"},
		{Name: "token", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "recipient", Type: "bytes32"},
		{Name: "call", Type: "bytes"},
		{Name: "context", Type: "bytes"},
	})
	if err != nil {
		panic("orderstandard: invalid MandateOutput type: " + err.Error())
	}
	return abi.Arguments{{Type: t}}
}

// OpenEventTopic0 is keccak256 of the canonical Open event signature, as
// computed by go-ethereum from the embedded ABI. Derived rather than
// hard-coded so the ABI string above is the single source of truth.
var OpenEventTopic0 = openEventABI.Events["Open"].ID

// FillSelector is the 4-byte selector of fill(bytes32,bytes,bytes).
var FillSelector = [4]byte(fillABI.Methods["fill"].ID[:4])

// FinaliseSelfSelector is the 4-byte selector of finaliseSelf(...).
var FinaliseSelfSelector = [4]byte(finaliseSelfABI.Methods["finaliseSelf"].ID[:4])

// --- Go-side mirrors of the ABI tuples, field-named to match go-ethereum's
// ToCamelCase(componentName) so Pack/UnpackIntoInterface line up. ---

type abiOutput struct {
	Token     [32]byte
	Amount    *big.Int
	Recipient [32]byte
	ChainId   *big.Int
}

type abiFillInstruction struct {
	DestinationChainId uint64
	DestinationSettler [32]byte
	OriginData         []byte
}

type abiResolvedOrder struct {
	User             common.Address
	OriginChainId    *big.Int
	OpenDeadline     uint32
	FillDeadline     uint32
	OrderId          [32]byte
	MaxSpent         []abiOutput
	MinReceived      []abiOutput
	FillInstructions []abiFillInstruction
}

type abiOpenEvent struct {
	Order abiResolvedOrder
}

// MandateOutput is the Go-side mirror of the MandateOutput ABI tuple
// encoded into fill()'s originData and finaliseSelf()'s per-output array.
type MandateOutput struct {
	Oracle    [32]byte
	Settler   [32]byte
	ChainId   *big.Int
	Token     [32]byte
	Amount    *big.Int
	Recipient [32]byte
	Call      []byte
	Context   []byte
}

func packMandateOutput(m MandateOutput) ([]byte, error) {
	return mandateOutputArgs.Pack(m)
}

func unpackMandateOutput(data []byte) (MandateOutput, error) {
	vals, err := mandateOutputArgs.UnpackValues(data)
	if err != nil {
		return MandateOutput{}, err
	}
	// A single tuple argument unpacks to one anonymous struct; convert it
	// field by field (Copy would assign the whole tuple to Oracle).
	return *abi.ConvertType(vals[0], new(MandateOutput)).(*MandateOutput), nil
}

type abiOrderStruct struct {
	User          common.Address
	Nonce         *big.Int
	OriginChainId *big.Int
	Expires       uint32
	FillDeadline  uint32
	Oracle        common.Address
	Inputs        [][2]*big.Int
	Outputs       []MandateOutput
}
