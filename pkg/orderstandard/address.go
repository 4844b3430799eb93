package orderstandard

import (
	"fmt"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

// AddressZero is the bytes32 sentinel for "no oracle" / native token /
// unset settler.
var AddressZero [32]byte

// AddressToBytes32 left-pads a 20-byte address into the low 20 bytes of a
// bytes32, per the ERC-7683 encoding convention used throughout C4.
func AddressToBytes32(a solvertypes.Address) [32]byte {
	var out [32]byte
	copy(out[12:], a[:])
	return out
}

// Bytes32ToAddress extracts the low 20 bytes of b as an address. It
// rejects any bytes32 whose high 12 bytes are non-zero: such a value is
// not a well-formed address encoding.
func Bytes32ToAddress(b [32]byte) (solvertypes.Address, error) {
	for i := 0; i < 12; i++ {
		if b[i] != 0 {
			return solvertypes.Address{}, fmt.Errorf("orderstandard: malformed address encoding, high bytes non-zero: %x", b)
		}
	}
	var a solvertypes.Address
	copy(a[:], b[12:])
	return a, nil
}

func isZeroBytes32(b [32]byte) bool {
	return b == AddressZero
}
