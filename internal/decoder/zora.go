package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindZoraAskFilled    = "zora-ask-filled"
	SubKindZoraAskCancelled = "zora-ask-cancelled"
	SubKindZoraAuctionEnded = "zora-auction-ended"
)

var (
	topicZoraAskFilled    = eventTopic("AskFilled(address,uint256,address,address,(address,address,address,uint16,uint256))")
	topicZoraAskCancelled = eventTopic("AskCanceled(address,uint256,(address,address,address,uint16,uint256))")
	topicZoraAuctionEnded = eventTopic("AuctionEnded(uint256,uint256,address,address,address,address,uint256,uint256,address)")
)

type zoraHandler struct{}

// NewZoraHandler decodes zora asks-module fills and auction-house
// settlements. Asks are keyed by (contract, tokenId) like foundation's.
func NewZoraHandler() Handler {
	return &zoraHandler{}
}

func (h *zoraHandler) Kind() Kind {
	return KindZora
}

func (h *zoraHandler) Events() []EventData {
	return []EventData{
		{Kind: KindZora, SubKind: SubKindZoraAskFilled, Topic: topicZoraAskFilled, NumTopics: 4},
		{Kind: KindZora, SubKind: SubKindZoraAskCancelled, Topic: topicZoraAskCancelled, NumTopics: 3},
		{Kind: KindZora, SubKind: SubKindZoraAuctionEnded, Topic: topicZoraAuctionEnded, NumTopics: 4},
	}
}

func (h *zoraHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindZoraAskFilled:
			contract := topicAddress(ev.Log.Topics[1])
			tokenID := topicBig(ev.Log.Topics[2]).String()
			buyer := topicAddress(ev.Log.Topics[3])
			seller, ok1 := dataAddress(ev.Log.Data, 1)
			currency, ok2 := dataAddress(ev.Log.Data, 3)
			price, ok3 := dataBig(ev.Log.Data, 5)
			if !ok1 || !ok2 || !ok3 {
				continue
			}
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindZora,
				OrderID:         zoraOrderID(contract, tokenID),
				OrderSide:       domain.OrderSideSell,
				Maker:           seller,
				Taker:           buyer,
				Contract:        contract,
				TokenID:         tokenID,
				Amount:          "1",
				Currency:        currency,
				CurrencyPrice:   price.String(),
				BaseEventParams: ev.Base,
			})

		case SubKindZoraAskCancelled:
			contract := topicAddress(ev.Log.Topics[1])
			tokenID := topicBig(ev.Log.Topics[2]).String()
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindZora,
				OrderID:         zoraOrderID(contract, tokenID),
				BaseEventParams: ev.Base,
			})

		case SubKindZoraAuctionEnded:
			tokenID := topicBig(ev.Log.Topics[2]).String()
			contract := topicAddress(ev.Log.Topics[3])
			tokenOwner, ok1 := dataAddress(ev.Log.Data, 0)
			winner, ok2 := dataAddress(ev.Log.Data, 2)
			amount, ok3 := dataBig(ev.Log.Data, 3)
			curatorFee, ok4 := dataBig(ev.Log.Data, 4)
			currency, ok5 := dataAddress(ev.Log.Data, 5)
			if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
				continue
			}
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindZora,
				OrderID:         zoraOrderID(contract, tokenID),
				OrderSide:       domain.OrderSideSell,
				Maker:           tokenOwner,
				Taker:           winner,
				Contract:        contract,
				TokenID:         tokenID,
				Amount:          "1",
				Currency:        currency,
				CurrencyPrice:   new(big.Int).Add(amount, curatorFee).String(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func zoraOrderID(contract, tokenID string) string {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("%s-%s-%s", domain.OrderKindZora, contract, tokenID)),
	).Hex()
}
