package settlement

import (
	"context"
	"fmt"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

// Direct is the default mechanism, suited to oracle-less or
// synchronous-oracle protocols: a fill is claimable the instant it is
// confirmed, with no dispute window.
type Direct struct {
	name     string
	adapters *chainadapter.Registry
	oracle   string // configured oracle address, or "" => zero address
	standard *orderstandard.EIP7683Standard
}

// NewDirect builds a Direct settlement mechanism. name lets multiple
// direct configurations (different oracle addresses) coexist in the
// registry under distinct names.
func NewDirect(name string, adapters *chainadapter.Registry, oracle string) *Direct {
	return &Direct{name: name, adapters: adapters, oracle: oracle, standard: orderstandard.NewEIP7683Standard()}
}

func (d *Direct) Name() string          { return d.name }
func (d *Direct) SettlementType() Type  { return TypeDirect }

// ValidateFill requires the destination receipt to be present and
// successful. This implementation trusts tx_to_order's reverse-index (the
// coordinator only calls ValidateFill for a hash it submitted itself) in
// place of independently re-deriving the expected output-settler address:
// solvertypes.Receipt carries no "to" field to compare against, since the
// chain adapter's receipt type mirrors eth_getTransactionReceipt, which
// likewise omits the original "to" (it is on the signed transaction, not
// the receipt).
func (d *Direct) ValidateFill(ctx context.Context, order solvertypes.Order, fillTxHash [32]byte) (solvertypes.FillProof, error) {
	instructions, err := d.standard.FillInstructions(order)
	if err != nil {
		return solvertypes.FillProof{}, err
	}
	if len(instructions) == 0 {
		return solvertypes.FillProof{}, fmt.Errorf("settlement: order %s has no fill instruction", order.ID)
	}
	destChain := instructions[0].DestinationChain

	adapter, err := d.adapters.Get(destChain)
	if err != nil {
		return solvertypes.FillProof{}, fmt.Errorf("settlement: %w", err)
	}

	receipt, err := adapter.TransactionReceipt(ctx, fillTxHash)
	if err != nil {
		return solvertypes.FillProof{}, fmt.Errorf("settlement: fetch fill receipt: %w", err)
	}
	if !receipt.Success {
		return solvertypes.FillProof{}, fmt.Errorf("settlement: fill receipt for order %s reverted", order.ID)
	}

	timestamp := receipt.Timestamp
	if timestamp == nil {
		ts, err := adapter.BlockTimestamp(ctx, receipt.BlockNumber)
		if err != nil {
			return solvertypes.FillProof{}, fmt.Errorf("settlement: fetch block timestamp: %w", err)
		}
		timestamp = &ts
	}

	oracleAddr := d.oracle
	if oracleAddr == "" {
		oracleAddr = "0x0000000000000000000000000000000000000000"
	}

	return solvertypes.FillProof{
		TxHash:          fillTxHash,
		BlockNumber:     receipt.BlockNumber,
		FilledTimestamp: *timestamp,
		OracleAddress:   oracleAddr,
	}, nil
}

// CanClaim returns true immediately: direct settlement has no dispute
// window.
func (d *Direct) CanClaim(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof, now uint64) (bool, error) {
	return true, nil
}
