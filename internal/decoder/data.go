package decoder

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eventTopic derives a log topic from a canonical event signature so the
// shape tables cannot drift from their signatures
func eventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func addresses(addrs ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		out[strings.ToLower(a)] = struct{}{}
	}
	return out
}

// topicAddress reads an address packed into an indexed topic
func topicAddress(h common.Hash) string {
	return strings.ToLower(common.BytesToAddress(h.Bytes()).Hex())
}

// topicBig reads an unsigned integer packed into an indexed topic
func topicBig(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}

// dataWord returns the i-th 32-byte word of a log's data section. The
// index is range-checked before any multiplication so hostile offsets
// near the int64 boundary cannot wrap into a negative slice index.
func dataWord(data []byte, i int) ([]byte, bool) {
	if i < 0 || i > (len(data)-32)/32 {
		return nil, false
	}
	start := i * 32
	return data[start : start+32], true
}

func dataAddress(data []byte, i int) (string, bool) {
	word, ok := dataWord(data, i)
	if !ok {
		return "", false
	}
	return strings.ToLower(common.BytesToAddress(word).Hex()), true
}

func dataBig(data []byte, i int) (*big.Int, bool) {
	word, ok := dataWord(data, i)
	if !ok {
		return nil, false
	}
	return new(big.Int).SetBytes(word), true
}

// mustDataBig reads a data word as an integer, zero when out of range
func mustDataBig(data []byte, i int) *big.Int {
	v, ok := dataBig(data, i)
	if !ok {
		return new(big.Int)
	}
	return v
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func isZeroWord(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
