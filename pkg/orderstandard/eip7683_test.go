package orderstandard

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/intent-solver/pkg/discovery"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

var testSolver = solvertypes.Address{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
var testOriginSettler = solvertypes.Address{0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}

func buildOpenIntent(t *testing.T, fillDeadline uint32, destChain, originChain uint64) solvertypes.Intent {
	t.Helper()

	recipient := AddressToBytes32(solvertypes.Address{0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11})
	destSettler := AddressToBytes32(solvertypes.Address{0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22})

	order := abiResolvedOrder{
		User:          common.Address{0x33},
		OriginChainId: new(big.Int).SetUint64(originChain),
		OpenDeadline:  uint32(fillDeadline - 10),
		FillDeadline:  fillDeadline,
		OrderId:       [32]byte{0x01, 0x02, 0x03},
		MaxSpent: []abiOutput{{
			Token:     AddressZero,
			Amount:    big.NewInt(1_000_000),
			Recipient: recipient,
			ChainId:   new(big.Int).SetUint64(destChain),
		}},
		MinReceived: []abiOutput{{
			Token:     AddressZero,
			Amount:    big.NewInt(1_000_000),
			Recipient: recipient,
			ChainId:   new(big.Int).SetUint64(originChain),
		}},
		FillInstructions: []abiFillInstruction{{
			DestinationChainId: destChain,
			DestinationSettler: destSettler,
			OriginData:         []byte{},
		}},
	}

	nonIndexed := openEventABI.Events["Open"].Inputs.NonIndexed()
	data, err := nonIndexed.Pack(order)
	require.NoError(t, err)

	topics := [][32]byte{OpenEventTopic0, order.OrderId}

	return solvertypes.Intent{
		ID:       "test-intent",
		Source:   "onchain-1",
		Standard: StandardName,
		Data: mustEncodeRawLog(t, discovery.RawLog{
			Address:     solvertypes.Address{},
			Topics:      topics,
			Data:        data,
			BlockNumber: 100,
			TxHash:      [32]byte{0xAB},
			LogIndex:    0,
		}),
	}
}

func mustEncodeRawLog(t *testing.T, raw discovery.RawLog) []byte {
	t.Helper()
	out, err := json.Marshal(raw)
	require.NoError(t, err)
	return out
}

func TestAddressConversionRoundTrip(t *testing.T) {
	addr := solvertypes.Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}
	b := AddressToBytes32(addr)
	back, err := Bytes32ToAddress(b)
	require.NoError(t, err)
	assert.Equal(t, addr, back)

	b[0] = 0xFF
	_, err = Bytes32ToAddress(b)
	assert.Error(t, err)
}

func TestParseAndGenerateFillRoundTrip(t *testing.T) {
	std := NewEIP7683Standard()
	intent := buildOpenIntent(t, 2_000_000_000, 31338, 31337)

	order, err := std.Parse(intent, 1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, StandardName, order.Standard)

	tx, err := std.GenerateFillTransaction(order, FillParams{Solver: testSolver})
	require.NoError(t, err)

	assert.Equal(t, FillSelector[:], tx.Data[:4])

	vals, err := fillABI.Methods["fill"].Inputs.UnpackValues(tx.Data[4:])
	require.NoError(t, err)
	originData := vals[1].([]byte)

	mandate, err := unpackMandateOutput(originData)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), mandate.Amount)
	assert.True(t, isZeroBytes32(mandate.Oracle))
}

func TestExpiredOrderRejected(t *testing.T) {
	std := NewEIP7683Standard()
	intent := buildOpenIntent(t, 100, 31338, 31337)

	_, err := std.Parse(intent, 200)
	reason, ok := AsValidationFailed(err)
	require.True(t, ok)
	assert.Equal(t, "Order expired", reason)
}

func TestSameChainRejected(t *testing.T) {
	std := NewEIP7683Standard()
	intent := buildOpenIntent(t, 2_000_000_000, 31337, 31337)

	order, err := std.Parse(intent, 1_700_000_000)
	require.NoError(t, err)

	_, err = std.GenerateFillTransaction(order, FillParams{Solver: testSolver})
	reason, ok := AsValidationFailed(err)
	require.True(t, ok)
	assert.Equal(t, "Same-chain orders are not supported", reason)

	_, err = std.GenerateClaimTransaction(order, ClaimParams{Solver: testSolver, OriginSettler: testOriginSettler})
	reason, ok = AsValidationFailed(err)
	require.True(t, ok)
	assert.Equal(t, "Same-chain orders are not supported", reason)
}
