package decoder

import (
	"math/big"
	"strings"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindElementERC721SellOrderFilled  = "element-erc721-sell-order-filled"
	SubKindElementERC721BuyOrderFilled   = "element-erc721-buy-order-filled"
	SubKindElementERC1155SellOrderFilled = "element-erc1155-sell-order-filled"
	SubKindElementERC1155BuyOrderFilled  = "element-erc1155-buy-order-filled"
	SubKindElementERC721OrderCancelled   = "element-erc721-order-cancelled"
	SubKindElementERC1155OrderCancelled  = "element-erc1155-order-cancelled"
)

var (
	topicElementERC721SellOrderFilled  = eventTopic("ERC721SellOrderFilled(bytes32,address,address,address,uint256,address,uint256,uint256)")
	topicElementERC721BuyOrderFilled   = eventTopic("ERC721BuyOrderFilled(bytes32,address,address,address,uint256,address,uint256,uint256)")
	topicElementERC1155SellOrderFilled = eventTopic("ERC1155SellOrderFilled(bytes32,address,address,address,uint256,address,uint256,uint128,uint256)")
	topicElementERC1155BuyOrderFilled  = eventTopic("ERC1155BuyOrderFilled(bytes32,address,address,address,uint256,address,uint256,uint128,uint256)")
)

// Element forked the 0x v4 cancellation events verbatim, so its cancel
// shapes are scoped to the exchange deployment to avoid misattribution
var elementExchanges = addresses(
	"0x20f780a973856b93f63670377900c1d2a50a77c4",
)

type elementHandler struct{}

// NewElementHandler decodes element sell/buy order fills and the
// exchange-scoped cancellations it shares with its 0x ancestry
func NewElementHandler() Handler {
	return &elementHandler{}
}

func (h *elementHandler) Kind() Kind {
	return KindElement
}

func (h *elementHandler) Events() []EventData {
	return []EventData{
		{Kind: KindElement, SubKind: SubKindElementERC721SellOrderFilled, Topic: topicElementERC721SellOrderFilled, NumTopics: 1},
		{Kind: KindElement, SubKind: SubKindElementERC721BuyOrderFilled, Topic: topicElementERC721BuyOrderFilled, NumTopics: 1},
		{Kind: KindElement, SubKind: SubKindElementERC1155SellOrderFilled, Topic: topicElementERC1155SellOrderFilled, NumTopics: 1},
		{Kind: KindElement, SubKind: SubKindElementERC1155BuyOrderFilled, Topic: topicElementERC1155BuyOrderFilled, NumTopics: 1},
		{Kind: KindElement, SubKind: SubKindElementERC721OrderCancelled, Topic: topicZeroExV4ERC721OrderCancelled, NumTopics: 1, Addresses: elementExchanges},
		{Kind: KindElement, SubKind: SubKindElementERC1155OrderCancelled, Topic: topicZeroExV4ERC1155OrderCancelled, NumTopics: 1, Addresses: elementExchanges},
	}
}

func (h *elementHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindElementERC721SellOrderFilled:
			h.handleFill(ev, data, domain.OrderKindElementERC721, domain.OrderSideSell, false)
		case SubKindElementERC721BuyOrderFilled:
			h.handleFill(ev, data, domain.OrderKindElementERC721, domain.OrderSideBuy, false)
		case SubKindElementERC1155SellOrderFilled:
			h.handleFill(ev, data, domain.OrderKindElementERC1155, domain.OrderSideSell, true)
		case SubKindElementERC1155BuyOrderFilled:
			h.handleFill(ev, data, domain.OrderKindElementERC1155, domain.OrderSideBuy, true)

		case SubKindElementERC721OrderCancelled, SubKindElementERC1155OrderCancelled:
			kind := domain.OrderKindElementERC721
			if ev.SubKind == SubKindElementERC1155OrderCancelled {
				kind = domain.OrderKindElementERC1155
			}
			maker, ok1 := dataAddress(ev.Log.Data, 0)
			nonce, ok2 := dataBig(ev.Log.Data, 1)
			if !ok1 || !ok2 {
				continue
			}
			data.NonceCancelEvents = append(data.NonceCancelEvents, domain.NonceCancelEvent{
				OrderKind:       kind,
				Maker:           maker,
				Nonce:           nonce.String(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func (h *elementHandler) handleFill(ev EnhancedEvent, data *domain.OnChainData, kind domain.OrderKind, side domain.OrderSide, erc1155 bool) {
	orderHash, ok0 := dataWord(ev.Log.Data, 0)
	maker, ok1 := dataAddress(ev.Log.Data, 1)
	taker, ok2 := dataAddress(ev.Log.Data, 2)
	erc20Token, ok3 := dataAddress(ev.Log.Data, 3)
	erc20Amount, ok4 := dataBig(ev.Log.Data, 4)
	nftToken, ok5 := dataAddress(ev.Log.Data, 5)
	nftTokenID, ok6 := dataBig(ev.Log.Data, 6)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return
	}

	amount := big.NewInt(1)
	if erc1155 {
		fillAmount, ok := dataBig(ev.Log.Data, 7)
		if !ok || fillAmount.Sign() == 0 {
			return
		}
		amount = fillAmount
	}

	currency := erc20Token
	if strings.EqualFold(currency, zeroExNativeSentinel) {
		currency = domain.NativeCurrency
	}

	appendFill(data, domain.FillEvent{
		OrderKind:       kind,
		OrderID:         "0x" + hexEncode(orderHash),
		OrderSide:       side,
		Maker:           maker,
		Taker:           taker,
		Contract:        nftToken,
		TokenID:         nftTokenID.String(),
		Amount:          amount.String(),
		Currency:        currency,
		CurrencyPrice:   new(big.Int).Div(erc20Amount, amount).String(),
		BaseEventParams: ev.Base,
	})
}
