package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindSudoswapSwapNFTIn  = "sudoswap-swap-nft-in-pair"
	SubKindSudoswapSwapNFTOut = "sudoswap-swap-nft-out-pair"
)

var (
	topicSudoswapSwapNFTIn  = eventTopic("SwapNFTInPair(uint256,uint256[])")
	topicSudoswapSwapNFTOut = eventTopic("SwapNFTOutPair(uint256,uint256[])")
)

type sudoswapHandler struct{}

// NewSudoswapHandler decodes AMM pair swaps. The pool itself is the maker
// of a standing two-sided order; the collection and counterparty come from
// the transfers the swap emitted. ERC20-quoted pools are rare enough that
// the quote is assumed native.
func NewSudoswapHandler() Handler {
	return &sudoswapHandler{}
}

func (h *sudoswapHandler) Kind() Kind {
	return KindSudoswap
}

func (h *sudoswapHandler) Events() []EventData {
	return []EventData{
		{Kind: KindSudoswap, SubKind: SubKindSudoswapSwapNFTIn, Topic: topicSudoswapSwapNFTIn, NumTopics: 1},
		{Kind: KindSudoswap, SubKind: SubKindSudoswapSwapNFTOut, Topic: topicSudoswapSwapNFTOut, NumTopics: 1},
	}
}

func (h *sudoswapHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		amount, ok := dataBig(ev.Log.Data, 0)
		if !ok || amount.Sign() == 0 {
			continue
		}
		idsOffset, ok := dataBig(ev.Log.Data, 1)
		if !ok {
			continue
		}
		ids, ok := decodeBigArray(ev.Log.Data, idsOffset)
		if !ok || len(ids) == 0 {
			// Older pair deployments emit the swap events without
			// arguments; recover the single traded token from transfers
			if t := lastNftTransferBefore(data, ev.Base.LogIndex); t != nil {
				ids = []*big.Int{mustBig(t.TokenID)}
			} else {
				continue
			}
		}

		pool := ev.Base.Address

		// NFTs flowing into the pool fill the pool's standing bid; NFTs
		// flowing out fill its standing ask
		side := domain.OrderSideBuy
		if ev.SubKind == SubKindSudoswapSwapNFTOut {
			side = domain.OrderSideSell
		}

		perItem := new(big.Int).Div(amount, big.NewInt(int64(len(ids))))
		for i, id := range ids {
			contract, taker := sudoswapCounterparty(data, pool, side)
			if contract == "" {
				break
			}
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindSudoswap,
				OrderID:         sudoswapOrderID(pool),
				OrderSide:       side,
				Maker:           pool,
				Taker:           taker,
				Contract:        contract,
				TokenID:         id.String(),
				Amount:          "1",
				Currency:        domain.NativeCurrency,
				CurrencyPrice:   perItem.String(),
				BaseEventParams: ev.Base.WithBatchIndex(uint64(i + 1)),
			})
		}
	}
	return nil
}

// sudoswapCounterparty resolves the collection and the trader from the
// swap's surrounding transfers
func sudoswapCounterparty(data *domain.OnChainData, pool string, side domain.OrderSide) (string, string) {
	for i := len(data.NftTransferEvents) - 1; i >= 0; i-- {
		t := &data.NftTransferEvents[i]
		if side == domain.OrderSideBuy && t.To == pool {
			return t.BaseEventParams.Address, t.From
		}
		if side == domain.OrderSideSell && t.From == pool {
			return t.BaseEventParams.Address, t.To
		}
	}
	return "", ""
}

func sudoswapOrderID(pool string) string {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("%s-%s", domain.OrderKindSudoswap, pool)),
	).Hex()
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
