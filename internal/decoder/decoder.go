package decoder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/samber/lo"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// Kind is a protocol family. One handler owns each kind; token-standard
// kinds (erc721/erc1155/erc20) run before marketplace kinds so that fill
// handlers can associate adjacent transfer events.
type Kind string

const (
	KindERC721      Kind = "erc721"
	KindERC1155     Kind = "erc1155"
	KindERC20       Kind = "erc20"
	KindWyvern      Kind = "wyvern"
	KindLooksRare   Kind = "looks-rare"
	KindSeaport     Kind = "seaport"
	KindZeroExV4    Kind = "zeroex-v4"
	KindX2Y2        Kind = "x2y2"
	KindFoundation  Kind = "foundation"
	KindElement     Kind = "element"
	KindCryptopunks Kind = "cryptopunks"
	KindZora        Kind = "zora"
	KindSudoswap    Kind = "sudoswap"
	KindNftx        Kind = "nftx"
	KindBlur        Kind = "blur"
	KindRarible     Kind = "rarible"
)

// EventData describes one recognizable log shape. Topic plus topic count
// disambiguates overloaded signatures (an ERC20 Transfer and an ERC721
// Transfer share a topic but differ in indexed arguments).
type EventData struct {
	Kind      Kind
	SubKind   string
	Topic     common.Hash
	NumTopics int
	// Addresses restricts the shape to known emitters (lowercase). Empty
	// means any emitter matches.
	Addresses map[string]struct{}
}

// EnhancedEvent is a raw log annotated with its recognized shape and
// canonical provenance
type EnhancedEvent struct {
	Kind    Kind
	SubKind string
	Log     types.Log
	Base    domain.BaseEventParams
}

// Handler decodes all of one transaction's events belonging to its kind.
// Handlers must never fail the whole batch on malformed payloads: skip the
// event, optionally log, move on. The OnChainData passed in already holds
// whatever earlier handlers of the same transaction appended, which is how
// fill handlers see the transfer events decoded before them.
type Handler interface {
	Kind() Kind
	Events() []EventData
	HandleTx(events []EnhancedEvent, data *domain.OnChainData) error
}

// Registry resolves raw logs to enhanced events and dispatches them to the
// owning handlers in a fixed priority order
type Registry struct {
	handlers []Handler
	byTopic  map[common.Hash][]EventData
}

// NewRegistry builds a registry from handlers. Registration order is
// processing order within a transaction.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: handlers,
		byTopic:  make(map[common.Hash][]EventData),
	}
	seen := make(map[string]struct{})
	for _, h := range handlers {
		for _, ed := range h.Events() {
			if _, dup := seen[ed.SubKind]; dup {
				return nil, fmt.Errorf("duplicate event subkind %q", ed.SubKind)
			}
			seen[ed.SubKind] = struct{}{}
			r.byTopic[ed.Topic] = append(r.byTopic[ed.Topic], ed)
		}
	}
	return r, nil
}

// Topics returns every registered topic0, for server-side log filtering
func (r *Registry) Topics() []common.Hash {
	return lo.Keys(r.byTopic)
}

// Parse matches a raw log against the registered shapes. Unrecognized logs
// return ok=false and are dropped by the caller.
func (r *Registry) Parse(log types.Log, timestamp int64) (EnhancedEvent, bool) {
	if len(log.Topics) == 0 {
		return EnhancedEvent{}, false
	}
	for _, ed := range r.byTopic[log.Topics[0]] {
		if len(log.Topics) != ed.NumTopics {
			continue
		}
		if len(ed.Addresses) > 0 {
			if _, ok := ed.Addresses[strings.ToLower(log.Address.Hex())]; !ok {
				continue
			}
		}
		return EnhancedEvent{
			Kind:    ed.Kind,
			SubKind: ed.SubKind,
			Log:     log,
			Base: domain.BaseEventParams{
				Address:    strings.ToLower(log.Address.Hex()),
				Block:      log.BlockNumber,
				BlockHash:  strings.ToLower(log.BlockHash.Hex()),
				TxHash:     strings.ToLower(log.TxHash.Hex()),
				TxIndex:    uint64(log.TxIndex),
				LogIndex:   uint64(log.Index),
				BatchIndex: 1,
				Timestamp:  timestamp,
			},
		}, true
	}
	return EnhancedEvent{}, false
}

// ProcessTx runs every handler over one transaction's enhanced events
// (ascending log index) and returns the accumulated canonical data
func (r *Registry) ProcessTx(events []EnhancedEvent) (*domain.OnChainData, error) {
	byKind := make(map[Kind][]EnhancedEvent)
	for _, ev := range events {
		byKind[ev.Kind] = append(byKind[ev.Kind], ev)
	}

	data := &domain.OnChainData{}
	for _, h := range r.handlers {
		kindEvents := byKind[h.Kind()]
		if len(kindEvents) == 0 {
			continue
		}
		if err := h.HandleTx(kindEvents, data); err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.Kind(), err)
		}
	}
	return data, nil
}

// DefaultRegistry wires every protocol handler in canonical order. The
// wrapped-native token address is chain-specific and flows to the handlers
// that settle accepted bids in it.
func DefaultRegistry(wrappedNative string) (*Registry, error) {
	return NewRegistry(
		NewERC721Handler(),
		NewERC1155Handler(),
		NewERC20Handler(),
		NewWyvernHandler(wrappedNative),
		NewLooksRareHandler(),
		NewSeaportHandler(),
		// Element forked 0x v4's cancel events; its address-scoped shapes
		// must register before the unscoped 0x ones
		NewElementHandler(),
		NewZeroExV4Handler(),
		NewX2Y2Handler(),
		NewFoundationHandler(),
		NewCryptopunksHandler(),
		NewZoraHandler(),
		NewSudoswapHandler(),
		NewNftxHandler(),
		NewBlurHandler(),
		NewRaribleHandler(),
	)
}
