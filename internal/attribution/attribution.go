package attribution

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// Source identifies where an order or fill came from, keyed by the
// marketplace's domain name
type Source struct {
	Domain string
}

// Attribution is the analytics view of a single fill: which venue the
// order lives on, which frontend produced the fill, and which aggregator
// (if any) routed it. Taker, when set, replaces the on-chain taker with
// the end user behind the router.
type Attribution struct {
	OrderSource      *string
	FillSource       *string
	AggregatorSource *string
	Taker            *string
}

// safeTransferFrom selectors; a bid accepted by transferring the token
// straight into a router wraps the real router calldata inside the data
// argument
const (
	selectorSafeTransferFrom721  = "b88d4fde" // safeTransferFrom(address,address,uint256,bytes)
	selectorSafeTransferFrom1155 = "f242432a" // safeTransferFrom(address,address,uint256,uint256,bytes)
)

// Resolver maps transactions to attribution using three immutable
// registries: per-protocol home venues, known aggregator routers, and
// source domain hashes embedded in calldata tails.
type Resolver struct {
	venueByKind  map[domain.OrderKind]string
	routers      map[string]string
	byDomainHash map[string]string
}

// NewResolver builds a resolver with the default registries. The sets are
// fixed at construction: attribution must be deterministic for a given
// binary, never dependent on mutable external state.
func NewResolver() *Resolver {
	r := &Resolver{
		venueByKind: map[domain.OrderKind]string{
			domain.OrderKindWyvernV23:       "opensea.io",
			domain.OrderKindSeaport:         "opensea.io",
			domain.OrderKindLooksRare:       "looksrare.org",
			domain.OrderKindX2Y2:            "x2y2.io",
			domain.OrderKindFoundation:      "foundation.app",
			domain.OrderKindElementERC721:   "element.market",
			domain.OrderKindElementERC1155:  "element.market",
			domain.OrderKindCryptoPunks:     "cryptopunks.app",
			domain.OrderKindZora:            "zora.co",
			domain.OrderKindSudoswap:        "sudoswap.xyz",
			domain.OrderKindNftx:            "nftx.io",
			domain.OrderKindBlur:            "blur.io",
			domain.OrderKindRarible:         "rarible.com",
			domain.OrderKindZeroExV4ERC721:  "trader.xyz",
			domain.OrderKindZeroExV4ERC1155: "trader.xyz",
		},
		routers: map[string]string{
			"0x0000000031f7382a812c64b604da4fc520afef4b": "gem.xyz",
			"0x83c8f28c26bf6aaca652df1dbbe0e1b56f8baba2": "gem.xyz",
			"0x0a267cf51ef038fc00e71801f5a524aec06e4f07": "genie.xyz",
			"0x2af4b707e1dce8fc345f38cfeeaa2421e54976d5": "genie.xyz",
			"0x39da41747a83aee658334415666f3ef92dd0d541": "blur.io",
			"0x000000000000ad05ccc4f10045630fb830b95127": "blur.io",
			"0x9ebfb53fa8526906738856848a27cb11b0285c3f": "reservoir.tools",
		},
		byDomainHash: make(map[string]string),
	}

	domains := map[string]struct{}{"reservoir.tools": {}}
	for _, d := range r.venueByKind {
		domains[d] = struct{}{}
	}
	for _, d := range r.routers {
		domains[d] = struct{}{}
	}
	for d := range domains {
		r.byDomainHash[domainHash(d)] = d
	}
	return r
}

// Resolve computes the attribution of a fill given its transaction's
// sender, target and calldata
func (r *Resolver) Resolve(kind domain.OrderKind, txFrom, txTo string, txData []byte) Attribution {
	var out Attribution

	if venue, ok := r.venueByKind[kind]; ok {
		out.OrderSource = &venue
		out.FillSource = &venue
	}

	data := unwrapSafeTransferFrom(txData)

	if aggregator, ok := r.routers[strings.ToLower(txTo)]; ok {
		out.AggregatorSource = &aggregator
		out.FillSource = &aggregator
		taker := domain.NormalizeAddress(txFrom)
		out.Taker = &taker
	}

	// A frontend can tag its fills by appending its domain hash to the
	// calldata; an explicit tag wins over router inference
	if tagged, ok := r.matchDomainTag(data); ok {
		out.FillSource = &tagged
	}

	return out
}

func (r *Resolver) matchDomainTag(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	tag := hex.EncodeToString(data[len(data)-4:])
	d, ok := r.byDomainHash[tag]
	return d, ok
}

// unwrapSafeTransferFrom peels the data argument out of a direct
// safeTransferFrom call so router tags inside it stay visible
func unwrapSafeTransferFrom(data []byte) []byte {
	if len(data) < 4 {
		return data
	}
	selector := hex.EncodeToString(data[:4])
	if selector != selectorSafeTransferFrom721 && selector != selectorSafeTransferFrom1155 {
		return data
	}

	args := data[4:]
	// The bytes argument is the last one; its offset word precedes the
	// fixed arguments' end (word 3 for ERC721, word 4 for ERC1155)
	offsetWord := 3
	if selector == selectorSafeTransferFrom1155 {
		offsetWord = 4
	}
	// Compare offsets and lengths as uint64 against the calldata size
	// before any int conversion; hostile values near the 64-bit boundary
	// must fall back to the raw calldata, not wrap into a panic
	offset, ok := wordAt(args, offsetWord)
	if !ok || offset%32 != 0 || offset > uint64(len(args)) {
		return data
	}
	length, ok := wordAt(args, int(offset/32))
	if !ok || length > uint64(len(args)) {
		return data
	}
	start := int(offset) + 32
	end := start + int(length)
	if end > len(args) {
		return data
	}
	return args[start:end]
}

func wordAt(args []byte, i int) (uint64, bool) {
	if i < 0 || i > (len(args)-32)/32 {
		return 0, false
	}
	start := i * 32
	// Offsets and lengths in sane calldata fit in the last 8 bytes
	var v uint64
	for _, b := range args[start+24 : start+32] {
		v = v<<8 | uint64(b)
	}
	return v, true
}

// domainHash is the first four bytes of keccak256 over the domain string
func domainHash(d string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(d))[:4])
}
