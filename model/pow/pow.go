package pow

import (
	"math/big"

	"github.com/copernet/blockstore/util"
)

var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// CompactToBig expands the 32 bit compact representation of a difficulty
// target (the header Bits field) into a big integer.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}
	return bn
}

// BigToCompact packs a big integer into the compact representation. Precision
// beyond the leading 23 bits of mantissa is lost.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// A mantissa with the sign bit set must shift into another exponent byte.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// GetBlockProof returns the amount of work a header with the given bits
// represents: 2^256 / (target+1).
func GetBlockProof(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denominator := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denominator)
}

// CheckProofOfWork verifies the claimed target is in range and the block hash
// does not exceed it.
func CheckProofOfWork(hash *util.Hash, bits uint32) bool {
	target := CompactToBig(bits)
	if target.Sign() <= 0 || target.Cmp(oneLsh256) >= 0 {
		return false
	}
	return hash.GetBigIntValue().Cmp(target) <= 0
}
