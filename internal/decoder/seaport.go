package decoder

import (
	"math/big"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindSeaportOrderFulfilled     = "seaport-order-filled"
	SubKindSeaportOrderCancelled     = "seaport-order-cancelled"
	SubKindSeaportCounterIncremented = "seaport-counter-incremented"
)

var (
	topicSeaportOrderFulfilled     = eventTopic("OrderFulfilled(bytes32,address,address,address,(uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[])")
	topicSeaportOrderCancelled     = eventTopic("OrderCancelled(bytes32,address,address)")
	topicSeaportCounterIncremented = eventTopic("CounterIncremented(uint256,address)")
)

// Seaport item types
const (
	seaportItemNative  = 0
	seaportItemERC20   = 1
	seaportItemERC721  = 2
	seaportItemERC1155 = 3
)

type seaportItem struct {
	ItemType   int
	Token      string
	Identifier *big.Int
	Amount     *big.Int
	Recipient  string
}

func (i *seaportItem) isNFT() bool {
	return i.ItemType == seaportItemERC721 || i.ItemType == seaportItemERC1155
}

func (i *seaportItem) isCurrency() bool {
	return i.ItemType == seaportItemNative || i.ItemType == seaportItemERC20
}

func (i *seaportItem) currency() string {
	if i.ItemType == seaportItemNative {
		return domain.NativeCurrency
	}
	return i.Token
}

func (i *seaportItem) standard() domain.TokenStandard {
	if i.ItemType == seaportItemERC1155 {
		return domain.StandardERC1155
	}
	return domain.StandardERC721
}

type seaportHandler struct{}

// NewSeaportHandler decodes seaport fulfillments by decomposing the offer
// and consideration item arrays: an NFT on the offer side is a filled
// listing, an NFT on the consideration side a filled bid. Bundles fan out
// into one fill per NFT item with the payment split evenly.
func NewSeaportHandler() Handler {
	return &seaportHandler{}
}

func (h *seaportHandler) Kind() Kind {
	return KindSeaport
}

func (h *seaportHandler) Events() []EventData {
	return []EventData{
		{Kind: KindSeaport, SubKind: SubKindSeaportOrderFulfilled, Topic: topicSeaportOrderFulfilled, NumTopics: 3},
		{Kind: KindSeaport, SubKind: SubKindSeaportOrderCancelled, Topic: topicSeaportOrderCancelled, NumTopics: 3},
		{Kind: KindSeaport, SubKind: SubKindSeaportCounterIncremented, Topic: topicSeaportCounterIncremented, NumTopics: 2},
	}
}

func (h *seaportHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindSeaportOrderFulfilled:
			h.handleOrderFulfilled(ev, data)

		case SubKindSeaportOrderCancelled:
			orderHash, ok := dataWord(ev.Log.Data, 0)
			if !ok {
				continue
			}
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindSeaport,
				OrderID:         "0x" + hexEncode(orderHash),
				BaseEventParams: ev.Base,
			})

		case SubKindSeaportCounterIncremented:
			data.BulkCancelEvents = append(data.BulkCancelEvents, domain.BulkCancelEvent{
				OrderKind:       domain.OrderKindSeaport,
				Maker:           topicAddress(ev.Log.Topics[1]),
				MinNonce:        mustDataBig(ev.Log.Data, 0).String(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func (h *seaportHandler) handleOrderFulfilled(ev EnhancedEvent, data *domain.OnChainData) {
	orderHash, ok := dataWord(ev.Log.Data, 0)
	if !ok {
		return
	}
	recipient, ok := dataAddress(ev.Log.Data, 1)
	if !ok {
		return
	}
	offerOffset, ok1 := dataBig(ev.Log.Data, 2)
	considerationOffset, ok2 := dataBig(ev.Log.Data, 3)
	if !ok1 || !ok2 {
		return
	}

	offer, ok := decodeSeaportItems(ev.Log.Data, offerOffset, 4)
	if !ok || len(offer) == 0 {
		return
	}
	consideration, ok := decodeSeaportItems(ev.Log.Data, considerationOffset, 5)
	if !ok {
		return
	}

	offerer := topicAddress(ev.Log.Topics[1])
	orderID := "0x" + hexEncode(orderHash)

	var (
		side     domain.OrderSide
		nfts     []seaportItem
		payment  = new(big.Int)
		currency string
	)
	if offer[0].isNFT() {
		// Listing: offerer gives NFTs, consideration carries the payment
		// (offerer proceeds plus fee items)
		side = domain.OrderSideSell
		for _, item := range offer {
			if item.isNFT() {
				nfts = append(nfts, item)
			}
		}
		for _, item := range consideration {
			if item.isCurrency() {
				if currency == "" {
					currency = item.currency()
				}
				if item.currency() == currency {
					payment.Add(payment, item.Amount)
				}
			}
		}
	} else {
		// Bid: offerer gives the payment, consideration carries the NFTs
		side = domain.OrderSideBuy
		currency = offer[0].currency()
		payment.Set(offer[0].Amount)
		for _, item := range consideration {
			if item.isNFT() {
				nfts = append(nfts, item)
			}
		}
	}

	if len(nfts) == 0 || currency == "" || payment.Sign() == 0 {
		return
	}

	perItem := new(big.Int).Div(payment, big.NewInt(int64(len(nfts))))
	for i, nft := range nfts {
		if nft.Amount.Sign() == 0 {
			continue
		}
		maker, taker := offerer, recipient
		if side == domain.OrderSideBuy && nft.Recipient != "" {
			taker = nft.Recipient
		}

		appendFill(data, domain.FillEvent{
			OrderKind:       domain.OrderKindSeaport,
			OrderID:         orderID,
			OrderSide:       side,
			Maker:           maker,
			Taker:           taker,
			Contract:        nft.Token,
			TokenID:         nft.Identifier.String(),
			Amount:          nft.Amount.String(),
			Currency:        currency,
			CurrencyPrice:   new(big.Int).Div(perItem, nft.Amount).String(),
			BaseEventParams: ev.Base.WithBatchIndex(uint64(i + 1)),
		})
	}
}

// decodeSeaportItems unpacks a static-tuple array (4 words for spent
// items, 5 for received items) at the given data offset
func decodeSeaportItems(data []byte, offset *big.Int, tupleWords int) ([]seaportItem, bool) {
	if !offset.IsInt64() || offset.Int64()%32 != 0 {
		return nil, false
	}
	start := int(offset.Int64() / 32)
	length, ok := dataBig(data, start)
	if !ok || !length.IsInt64() {
		return nil, false
	}

	// The claimed length must fit in the bytes actually present; a
	// fabricated log can otherwise demand an arbitrarily large allocation
	n := int(length.Int64())
	avail := (len(data)/32 - (start + 1)) / tupleWords
	if n < 0 || n > avail {
		return nil, false
	}
	items := make([]seaportItem, 0, n)
	for i := 0; i < n; i++ {
		base := start + 1 + i*tupleWords
		itemType, ok1 := dataBig(data, base)
		token, ok2 := dataAddress(data, base+1)
		identifier, ok3 := dataBig(data, base+2)
		amount, ok4 := dataBig(data, base+3)
		if !ok1 || !ok2 || !ok3 || !ok4 || !itemType.IsInt64() {
			return nil, false
		}
		item := seaportItem{
			ItemType:   int(itemType.Int64()),
			Token:      token,
			Identifier: identifier,
			Amount:     amount,
		}
		if tupleWords == 5 {
			recipient, ok := dataAddress(data, base+4)
			if !ok {
				return nil, false
			}
			item.Recipient = recipient
		}
		items = append(items, item)
	}
	return items, true
}
