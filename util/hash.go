package util

import (
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

const (
	Hash256Size       = 32
	MaxHashStringSize = Hash256Size * 2
)

// Hash is a 256 bit identifier stored in the byte order produced by the hash
// function and printed in the reversed order bitcoin uses.
type Hash [Hash256Size]byte

var HashZero = Hash{}

func (hash Hash) String() string {
	for i := 0; i < Hash256Size/2; i++ {
		hash[i], hash[Hash256Size-1-i] = hash[Hash256Size-1-i], hash[i]
	}
	return hex.EncodeToString(hash[:])
}

func (hash *Hash) Serialize(w io.Writer) (int, error) {
	return w.Write(hash[:])
}

func (hash *Hash) Unserialize(r io.Reader) (int, error) {
	return io.ReadFull(r, hash[:])
}

func (hash *Hash) SetBytes(bytes []byte) error {
	length := len(bytes)
	if length != Hash256Size {
		return fmt.Errorf("invalid hash length of %v, want %v", length, Hash256Size)
	}
	copy(hash[:], bytes)
	return nil
}

func (hash *Hash) GetBigIntValue() *big.Int {
	reversed := make([]byte, Hash256Size)
	for i, b := range hash {
		reversed[Hash256Size-1-i] = b
	}
	return new(big.Int).SetBytes(reversed)
}

func (hash *Hash) IsEqual(target *Hash) bool {
	if hash == nil && target == nil {
		return true
	}
	if hash == nil || target == nil {
		return false
	}
	return *hash == *target
}

func (hash *Hash) IsNull() bool {
	for _, item := range hash {
		if item != 0 {
			return false
		}
	}
	return true
}

func (hash *Hash) Cmp(other *Hash) int {
	for i := Hash256Size - 1; i >= 0; i-- {
		if hash[i] < other[i] {
			return -1
		}
		if hash[i] > other[i] {
			return 1
		}
	}
	return 0
}

func GetHashFromStr(hashStr string) (hash *Hash, err error) {
	hash = new(Hash)
	bytes, err := DecodeHash(hashStr)
	if err != nil {
		return
	}
	err = hash.SetBytes(bytes)
	return
}

func DecodeHash(src string) (bytes []byte, err error) {
	if len(src) > MaxHashStringSize {
		return nil, fmt.Errorf("max hash string length is %v bytes", MaxHashStringSize)
	}
	var srcBytes []byte
	var srcLen = len(src)
	if srcLen%2 == 0 {
		srcBytes = []byte(src)
	} else {
		srcBytes = make([]byte, 1+srcLen)
		srcBytes[0] = '0'
		copy(srcBytes[1:], src)
	}
	var reversedHash = make([]byte, Hash256Size)
	_, err = hex.Decode(reversedHash[Hash256Size-hex.DecodedLen(len(srcBytes)):], srcBytes)
	if err != nil {
		return
	}
	bytes = make([]byte, Hash256Size)
	for i, b := range reversedHash[:Hash256Size/2] {
		bytes[i], bytes[Hash256Size-1-i] = reversedHash[Hash256Size-1-i], b
	}
	return
}

// HashFromString panics on a malformed string, so only use it with literals.
func HashFromString(hexString string) *Hash {
	hash, err := GetHashFromStr(hexString)
	if err != nil {
		panic(err)
	}
	return hash
}
