package discovery

import (
	"encoding/json"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

// RawLog is the canonical on-the-wire shape an OrderStandard decodes an
// Intent's Data field into for on-chain-sourced intents. It carries
// exactly what an Open-event decoder needs: the log's address, topics,
// and data, plus enough chain context to build a FillProof later.
type RawLog struct {
	Address     solvertypes.Address `json:"address"`
	Topics      [][32]byte          `json:"topics"`
	Data        []byte              `json:"data"`
	BlockNumber uint64              `json:"block_number"`
	TxHash      [32]byte            `json:"tx_hash"`
	LogIndex    uint                `json:"log_index"`
}

func encodeRawLog(l solvertypes.Log) []byte {
	raw := RawLog{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
	}
	// encoding/json cannot fail on this concrete, cycle-free struct.
	out, _ := json.Marshal(raw)
	return out
}

// DecodeRawLog is exported for OrderStandard implementations that consume
// on-chain-sourced intents.
func DecodeRawLog(data []byte) (RawLog, error) {
	var raw RawLog
	err := json.Unmarshal(data, &raw)
	return raw, err
}
