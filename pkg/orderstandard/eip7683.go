package orderstandard

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/intent-solver/pkg/discovery"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

const StandardName = "eip7683"

// DefaultFillGasLimit is used when an order carries no explicit
// fill_gas_limit override.
const DefaultFillGasLimit uint64 = 300_000

// Output is the persisted, JSON-friendly mirror of one ERC-7683 Output
// tuple (maxSpent or minReceived entry).
type Output struct {
	Token     [32]byte `json:"token"`
	Amount    string   `json:"amount"`
	Recipient [32]byte `json:"recipient"`
	ChainID   uint64   `json:"chain_id"`
}

// FillInstructionData is the persisted mirror of one ERC-7683
// FillInstruction tuple.
type FillInstructionData struct {
	DestinationChainID uint64   `json:"destination_chain_id"`
	DestinationSettler [32]byte `json:"destination_settler"`
	OriginData         []byte   `json:"origin_data"`
}

// OrderData is the JSON payload stored in solvertypes.Order.Data for every
// order parsed by this standard. It is the persisted replacement for the
// ephemeral ResolvedCrossChainOrder the Open event carried.
type OrderData struct {
	User             solvertypes.Address   `json:"user"`
	OriginChainID    uint64                `json:"origin_chain_id"`
	OpenDeadline     uint32                `json:"open_deadline"`
	FillDeadline     uint32                `json:"fill_deadline"`
	OrderID          [32]byte              `json:"order_id"`
	MaxSpent         []Output              `json:"max_spent"`
	MinReceived      []Output              `json:"min_received"`
	FillInstructions []FillInstructionData `json:"fill_instructions"`
}

// Standard implements orderstandard.Standard for ERC-7683.
type EIP7683Standard struct{}

func NewEIP7683Standard() *EIP7683Standard { return &EIP7683Standard{} }

func (s *EIP7683Standard) Name() string { return StandardName }

// Parse decodes an intent's raw log payload as an Open event and
// validates it: correct topic0, present orderId topic, non-empty data,
// matching standard name, not expired, at least one fill instruction.
func (s *EIP7683Standard) Parse(intent solvertypes.Intent, now uint64) (solvertypes.Order, error) {
	if intent.Standard != StandardName {
		return solvertypes.Order{}, fmt.Errorf("orderstandard: intent standard %q does not match %q", intent.Standard, StandardName)
	}

	raw, err := discovery.DecodeRawLog(intent.Data)
	if err != nil {
		return solvertypes.Order{}, orderErrorf("Invalid Open event: %v", err)
	}
	if len(raw.Topics) < 2 {
		return solvertypes.Order{}, orderErrorf("Invalid Open event: missing orderId topic")
	}
	if len(raw.Data) == 0 {
		return solvertypes.Order{}, orderErrorf("Invalid Open event: empty data")
	}
	if common.Hash(raw.Topics[0]) != OpenEventTopic0 {
		return solvertypes.Order{}, orderErrorf("Invalid Open event: topic0 mismatch")
	}

	var decoded abiOpenEvent
	if err := openEventABI.UnpackIntoInterface(&decoded, "Open", raw.Data); err != nil {
		return solvertypes.Order{}, orderErrorf("Invalid Open event: %v", err)
	}

	order := decoded.Order
	expiresAt := uint64(order.FillDeadline)
	if now > expiresAt {
		return solvertypes.Order{}, ValidationFailed("Order expired")
	}
	if len(order.FillInstructions) == 0 || len(order.MaxSpent) == 0 {
		return solvertypes.Order{}, ValidationFailed("Order has no fill instruction")
	}

	data := OrderData{
		User:          solvertypes.Address(order.User),
		OriginChainID: order.OriginChainId.Uint64(),
		OpenDeadline:  order.OpenDeadline,
		FillDeadline:  order.FillDeadline,
		OrderID:       raw.Topics[1],
		MaxSpent:      convertOutputs(order.MaxSpent),
		MinReceived:   convertOutputs(order.MinReceived),
	}
	for _, fi := range order.FillInstructions {
		data.FillInstructions = append(data.FillInstructions, FillInstructionData{
			DestinationChainID: fi.DestinationChainId,
			DestinationSettler: fi.DestinationSettler,
			OriginData:         fi.OriginData,
		})
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return solvertypes.Order{}, fmt.Errorf("orderstandard: marshal order data: %w", err)
	}

	return solvertypes.Order{
		ID:        hex.EncodeToString(raw.Topics[1][:]),
		Standard:  StandardName,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Data:      payload,
	}, nil
}

func convertOutputs(in []abiOutput) []Output {
	out := make([]Output, len(in))
	for i, o := range in {
		out[i] = Output{Token: o.Token, Amount: o.Amount.String(), Recipient: o.Recipient, ChainID: o.ChainId.Uint64()}
	}
	return out
}

func (s *EIP7683Standard) decode(order solvertypes.Order) (OrderData, error) {
	var data OrderData
	if err := json.Unmarshal(order.Data, &data); err != nil {
		return OrderData{}, fmt.Errorf("orderstandard: unmarshal order data: %w", err)
	}
	return data, nil
}

// FillInstructions rebuilds the ephemeral fill instructions from the
// persisted order.
func (s *EIP7683Standard) FillInstructions(order solvertypes.Order) ([]solvertypes.FillInstruction, error) {
	data, err := s.decode(order)
	if err != nil {
		return nil, err
	}
	out := make([]solvertypes.FillInstruction, 0, len(data.FillInstructions))
	for _, fi := range data.FillInstructions {
		settler, err := Bytes32ToAddress(fi.DestinationSettler)
		if err != nil {
			return nil, err
		}
		out = append(out, solvertypes.FillInstruction{
			DestinationChain:    fi.DestinationChainID,
			DestinationContract: settler,
			Fill: solvertypes.FillData{
				EIP7683: &solvertypes.EIP7683FillData{
					OrderID:    data.OrderID,
					OriginData: fi.OriginData,
				},
			},
		})
	}
	return out, nil
}

// sameChain reports whether the order's single destination output shares
// the origin chain id; both builders reject such orders.
func sameChain(data OrderData) bool {
	if len(data.MaxSpent) == 0 {
		return false
	}
	return data.MaxSpent[0].ChainID == data.OriginChainID
}

// GenerateFillTransaction builds fill(bytes32,bytes,bytes) against the
// first output's destination settler. Multi-output fills are not
// supported; FillInstructions above still reports every instruction for
// observability.
func (s *EIP7683Standard) GenerateFillTransaction(order solvertypes.Order, params FillParams) (solvertypes.Transaction, error) {
	data, err := s.decode(order)
	if err != nil {
		return solvertypes.Transaction{}, err
	}
	if len(data.MaxSpent) == 0 || len(data.FillInstructions) == 0 {
		return solvertypes.Transaction{}, orderErrorf("order has no output to fill")
	}
	if sameChain(data) {
		return solvertypes.Transaction{}, ValidationFailed("Same-chain orders are not supported")
	}

	output := data.MaxSpent[0]
	fillIx := data.FillInstructions[0]

	settlerAddr := fillIx.DestinationSettler

	mandate := MandateOutput{
		Oracle:    AddressZero,
		Settler:   settlerAddr,
		ChainId:   new(big.Int).SetUint64(output.ChainID),
		Token:     output.Token,
		Amount:    amountOrZero(output.Amount),
		Recipient: output.Recipient,
		Call:      []byte{},
		Context:   []byte{},
	}
	originData, err := packMandateOutput(mandate)
	if err != nil {
		return solvertypes.Transaction{}, fmt.Errorf("orderstandard: pack MandateOutput: %w", err)
	}

	fillerData := make([]byte, 32)
	copy(fillerData[12:], params.Solver[:])

	callData, err := fillABI.Pack("fill", data.OrderID, originData, fillerData)
	if err != nil {
		return solvertypes.Transaction{}, fmt.Errorf("orderstandard: pack fill call: %w", err)
	}

	to, err := Bytes32ToAddress(settlerAddr)
	if err != nil {
		return solvertypes.Transaction{}, orderErrorf("Invalid Open event: malformed destination settler: %v", err)
	}

	var value *big.Int
	if isZeroBytes32(output.Token) {
		value = amountOrZero(output.Amount)
	} else {
		value = big.NewInt(0)
	}

	gasLimit := DefaultFillGasLimit
	if params.FillGasLimit != nil {
		gasLimit = *params.FillGasLimit
	}

	return solvertypes.Transaction{
		To:       &to,
		Value:    value,
		Data:     callData,
		ChainID:  fillIx.DestinationChainID,
		GasLimit: &gasLimit,
	}, nil
}

// GenerateClaimTransaction builds finaliseSelf(order, timestamps, solver)
// against the origin chain's input settler.
func (s *EIP7683Standard) GenerateClaimTransaction(order solvertypes.Order, params ClaimParams) (solvertypes.Transaction, error) {
	data, err := s.decode(order)
	if err != nil {
		return solvertypes.Transaction{}, err
	}
	if sameChain(data) {
		return solvertypes.Transaction{}, ValidationFailed("Same-chain orders are not supported")
	}

	inputs := make([][2]*big.Int, len(data.MinReceived))
	for i, in := range data.MinReceived {
		tokenAsUint := new(big.Int).SetBytes(in.Token[:])
		inputs[i] = [2]*big.Int{tokenAsUint, amountOrZero(in.Amount)}
	}

	outputs := make([]MandateOutput, len(data.MaxSpent))
	for i, out := range data.MaxSpent {
		var settlerBytes [32]byte
		if out.ChainID == data.OriginChainID {
			settlerBytes = AddressToBytes32(params.OriginSettler)
		} else if i < len(data.FillInstructions) {
			settlerBytes = data.FillInstructions[i].DestinationSettler
		}
		outputs[i] = MandateOutput{
			Oracle:    AddressZero,
			Settler:   settlerBytes,
			ChainId:   new(big.Int).SetUint64(out.ChainID),
			Token:     out.Token,
			Amount:    amountOrZero(out.Amount),
			Recipient: out.Recipient,
			Call:      []byte{},
			Context:   []byte{},
		}
	}

	timestamps := params.FilledTimestamps
	if len(timestamps) == 0 {
		timestamps = make([]uint32, len(outputs))
	}
	for len(timestamps) < len(outputs) {
		timestamps = append(timestamps, timestamps[len(timestamps)-1])
	}

	orderStruct := abiOrderStruct{
		User:          common.Address(data.User),
		Nonce:         new(big.Int).SetBytes(data.OrderID[:]),
		OriginChainId: new(big.Int).SetUint64(data.OriginChainID),
		Expires:       data.FillDeadline,
		FillDeadline:  data.FillDeadline,
		Oracle:        common.Address{},
		Inputs:        inputs,
		Outputs:       outputs,
	}

	solverBytes32 := AddressToBytes32(params.Solver)

	callData, err := finaliseSelfABI.Pack("finaliseSelf", orderStruct, timestamps, solverBytes32)
	if err != nil {
		return solvertypes.Transaction{}, fmt.Errorf("orderstandard: pack finaliseSelf call: %w", err)
	}

	to := params.OriginSettler
	return solvertypes.Transaction{
		To:      &to,
		Value:   big.NewInt(0),
		Data:    callData,
		ChainID: data.OriginChainID,
	}, nil
}

func amountOrZero(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
