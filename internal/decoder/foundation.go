package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindFoundationBuyPriceSet         = "foundation-buy-price-set"
	SubKindFoundationBuyPriceAccepted    = "foundation-buy-price-accepted"
	SubKindFoundationBuyPriceInvalidated = "foundation-buy-price-invalidated"
	SubKindFoundationBuyPriceCancelled   = "foundation-buy-price-cancelled"
	SubKindFoundationOfferAccepted       = "foundation-offer-accepted"
	SubKindFoundationAuctionFinalized    = "foundation-reserve-auction-finalized"
)

var (
	topicFoundationBuyPriceSet         = eventTopic("BuyPriceSet(address,uint256,address,uint256)")
	topicFoundationBuyPriceAccepted    = eventTopic("BuyPriceAccepted(address,uint256,address,address,uint256,uint256,uint256)")
	topicFoundationBuyPriceInvalidated = eventTopic("BuyPriceInvalidated(address,uint256)")
	topicFoundationBuyPriceCancelled   = eventTopic("BuyPriceCanceled(address,uint256)")
	topicFoundationOfferAccepted       = eventTopic("OfferAccepted(address,uint256,address,address,uint256,uint256,uint256)")
	topicFoundationAuctionFinalized    = eventTopic("ReserveAuctionFinalized(uint256,address,address,uint256,uint256,uint256)")
)

type foundationHandler struct{}

// NewFoundationHandler decodes foundation's single-edition market. Orders
// have no on-chain hash and are keyed by (contract, tokenId); prices come
// split into protocol fee, creator fee and seller revenue.
func NewFoundationHandler() Handler {
	return &foundationHandler{}
}

func (h *foundationHandler) Kind() Kind {
	return KindFoundation
}

func (h *foundationHandler) Events() []EventData {
	return []EventData{
		{Kind: KindFoundation, SubKind: SubKindFoundationBuyPriceSet, Topic: topicFoundationBuyPriceSet, NumTopics: 4},
		{Kind: KindFoundation, SubKind: SubKindFoundationBuyPriceAccepted, Topic: topicFoundationBuyPriceAccepted, NumTopics: 4},
		{Kind: KindFoundation, SubKind: SubKindFoundationBuyPriceInvalidated, Topic: topicFoundationBuyPriceInvalidated, NumTopics: 3},
		{Kind: KindFoundation, SubKind: SubKindFoundationBuyPriceCancelled, Topic: topicFoundationBuyPriceCancelled, NumTopics: 3},
		{Kind: KindFoundation, SubKind: SubKindFoundationOfferAccepted, Topic: topicFoundationOfferAccepted, NumTopics: 4},
		{Kind: KindFoundation, SubKind: SubKindFoundationAuctionFinalized, Topic: topicFoundationAuctionFinalized, NumTopics: 4},
	}
}

func (h *foundationHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindFoundationBuyPriceSet:
			contract := topicAddress(ev.Log.Topics[1])
			tokenID := topicBig(ev.Log.Topics[2]).String()
			orderID := foundationOrderID(contract, tokenID)
			data.OrderInfos = append(data.OrderInfos, domain.OrderInfo{
				Context: fmt.Sprintf("new-order-%s-%s", orderID, ev.Base.TxHash),
				OrderID: orderID,
				Trigger: domain.Trigger{
					Kind:        domain.TriggerKindNewOrder,
					TxHash:      ev.Base.TxHash,
					TxTimestamp: ev.Base.Timestamp,
					BlockHash:   ev.Base.BlockHash,
				},
			})

		case SubKindFoundationBuyPriceAccepted:
			contract := topicAddress(ev.Log.Topics[1])
			tokenID := topicBig(ev.Log.Topics[2]).String()
			seller := topicAddress(ev.Log.Topics[3])
			buyer, ok := dataAddress(ev.Log.Data, 0)
			if !ok {
				continue
			}
			price, ok := foundationTotalPrice(ev.Log.Data, 1)
			if !ok {
				continue
			}
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindFoundation,
				OrderID:         foundationOrderID(contract, tokenID),
				OrderSide:       domain.OrderSideSell,
				Maker:           seller,
				Taker:           buyer,
				Contract:        contract,
				TokenID:         tokenID,
				Amount:          "1",
				Currency:        domain.NativeCurrency,
				CurrencyPrice:   price.String(),
				BaseEventParams: ev.Base,
			})

		case SubKindFoundationBuyPriceInvalidated, SubKindFoundationBuyPriceCancelled:
			contract := topicAddress(ev.Log.Topics[1])
			tokenID := topicBig(ev.Log.Topics[2]).String()
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindFoundation,
				OrderID:         foundationOrderID(contract, tokenID),
				BaseEventParams: ev.Base,
			})

		case SubKindFoundationOfferAccepted:
			contract := topicAddress(ev.Log.Topics[1])
			tokenID := topicBig(ev.Log.Topics[2]).String()
			buyer := topicAddress(ev.Log.Topics[3])
			seller, ok := dataAddress(ev.Log.Data, 0)
			if !ok {
				continue
			}
			price, ok := foundationTotalPrice(ev.Log.Data, 1)
			if !ok {
				continue
			}
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindFoundation,
				OrderID:         foundationOrderID(contract, tokenID),
				OrderSide:       domain.OrderSideBuy,
				Maker:           buyer,
				Taker:           seller,
				Contract:        contract,
				TokenID:         tokenID,
				Amount:          "1",
				Currency:        domain.NativeCurrency,
				CurrencyPrice:   price.String(),
				BaseEventParams: ev.Base,
			})

		case SubKindFoundationAuctionFinalized:
			seller := topicAddress(ev.Log.Topics[2])
			bidder := topicAddress(ev.Log.Topics[3])
			price, ok := foundationTotalPrice(ev.Log.Data, 0)
			if !ok {
				continue
			}
			// The auction log carries no token; recover it from the
			// transfer emitted during settlement
			transfer := lastNftTransferBefore(data, ev.Base.LogIndex)
			if transfer == nil {
				continue
			}
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindFoundation,
				OrderID:         foundationOrderID(transfer.BaseEventParams.Address, transfer.TokenID),
				OrderSide:       domain.OrderSideSell,
				Maker:           seller,
				Taker:           bidder,
				Contract:        transfer.BaseEventParams.Address,
				TokenID:         transfer.TokenID,
				Amount:          "1",
				Currency:        domain.NativeCurrency,
				CurrencyPrice:   price.String(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

// foundationTotalPrice sums the fee/revenue triple starting at word i
func foundationTotalPrice(data []byte, i int) (*big.Int, bool) {
	protocolFee, ok1 := dataBig(data, i)
	creatorFee, ok2 := dataBig(data, i+1)
	sellerRev, ok3 := dataBig(data, i+2)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	total := new(big.Int).Add(protocolFee, creatorFee)
	return total.Add(total, sellerRev), true
}

func foundationOrderID(contract, tokenID string) string {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("%s-%s-%s", domain.OrderKindFoundation, contract, tokenID)),
	).Hex()
}
