package util

import (
	"io"

	"github.com/pkg/errors"
)

// WriteVarLenInt writes n in the variable length format the block index
// records use: base-128 groups, most significant first, with the high bit
// marking continuation and every group after the first offset by one.
func WriteVarLenInt(w io.Writer, n uint64) error {
	tmp := make([]byte, 0, 10)
	for {
		b := byte(n & 0x7f)
		if len(tmp) > 0 {
			b |= 0x80
		}
		tmp = append(tmp, b)
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
	}
	for i := len(tmp) - 1; i >= 0; i-- {
		if _, err := w.Write(tmp[i : i+1]); err != nil {
			return err
		}
	}
	return nil
}

func ReadVarLenInt(r io.Reader) (uint64, error) {
	var n uint64
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if n > (^uint64(0) >> 7) {
			return 0, errors.New("ReadVarLenInt: size too large")
		}
		n = (n << 7) | uint64(b[0]&0x7f)
		if b[0]&0x80 == 0 {
			return n, nil
		}
		if n == ^uint64(0) {
			return 0, errors.New("ReadVarLenInt: size too large")
		}
		n++
	}
}
