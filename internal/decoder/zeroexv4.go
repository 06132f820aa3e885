package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindZeroExV4ERC721OrderFilled     = "zeroex-v4-erc721-order-filled"
	SubKindZeroExV4ERC1155OrderFilled    = "zeroex-v4-erc1155-order-filled"
	SubKindZeroExV4ERC721OrderCancelled  = "zeroex-v4-erc721-order-cancelled"
	SubKindZeroExV4ERC1155OrderCancelled = "zeroex-v4-erc1155-order-cancelled"
)

var (
	topicZeroExV4ERC721OrderFilled     = eventTopic("ERC721OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256)")
	topicZeroExV4ERC1155OrderFilled    = eventTopic("ERC1155OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256,uint128)")
	topicZeroExV4ERC721OrderCancelled  = eventTopic("ERC721OrderCancelled(address,uint256)")
	topicZeroExV4ERC1155OrderCancelled = eventTopic("ERC1155OrderCancelled(address,uint256)")
)

// The 0x native-currency sentinel used in place of an ERC20 address
const zeroExNativeSentinel = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

type zeroExV4Handler struct{}

// NewZeroExV4Handler decodes 0x v4 NFT order fills and cancellations.
// Orders have no on-chain hash; the id is derived from (kind, maker,
// nonce), which is also the protocol's own uniqueness scope.
func NewZeroExV4Handler() Handler {
	return &zeroExV4Handler{}
}

func (h *zeroExV4Handler) Kind() Kind {
	return KindZeroExV4
}

func (h *zeroExV4Handler) Events() []EventData {
	return []EventData{
		{Kind: KindZeroExV4, SubKind: SubKindZeroExV4ERC721OrderFilled, Topic: topicZeroExV4ERC721OrderFilled, NumTopics: 1},
		{Kind: KindZeroExV4, SubKind: SubKindZeroExV4ERC1155OrderFilled, Topic: topicZeroExV4ERC1155OrderFilled, NumTopics: 1},
		{Kind: KindZeroExV4, SubKind: SubKindZeroExV4ERC721OrderCancelled, Topic: topicZeroExV4ERC721OrderCancelled, NumTopics: 1},
		{Kind: KindZeroExV4, SubKind: SubKindZeroExV4ERC1155OrderCancelled, Topic: topicZeroExV4ERC1155OrderCancelled, NumTopics: 1},
	}
}

func (h *zeroExV4Handler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindZeroExV4ERC721OrderFilled:
			h.handleFill(ev, data, domain.OrderKindZeroExV4ERC721, false)

		case SubKindZeroExV4ERC1155OrderFilled:
			h.handleFill(ev, data, domain.OrderKindZeroExV4ERC1155, true)

		case SubKindZeroExV4ERC721OrderCancelled:
			h.handleCancel(ev, data, domain.OrderKindZeroExV4ERC721)

		case SubKindZeroExV4ERC1155OrderCancelled:
			h.handleCancel(ev, data, domain.OrderKindZeroExV4ERC1155)
		}
	}
	return nil
}

func (h *zeroExV4Handler) handleFill(ev EnhancedEvent, data *domain.OnChainData, kind domain.OrderKind, erc1155 bool) {
	direction, ok0 := dataBig(ev.Log.Data, 0)
	maker, ok1 := dataAddress(ev.Log.Data, 1)
	taker, ok2 := dataAddress(ev.Log.Data, 2)
	nonce, ok3 := dataBig(ev.Log.Data, 3)
	erc20Token, ok4 := dataAddress(ev.Log.Data, 4)
	erc20Amount, ok5 := dataBig(ev.Log.Data, 5)
	nftToken, ok6 := dataAddress(ev.Log.Data, 6)
	nftTokenID, ok7 := dataBig(ev.Log.Data, 7)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 {
		return
	}

	amount := big.NewInt(1)
	if erc1155 {
		fillAmount, ok := dataBig(ev.Log.Data, 8)
		if !ok || fillAmount.Sign() == 0 {
			return
		}
		amount = fillAmount
	}

	// direction 0 = maker sells the NFT, 1 = maker bids on it
	side := domain.OrderSideSell
	if direction.Sign() != 0 {
		side = domain.OrderSideBuy
	}

	currency := erc20Token
	if strings.EqualFold(currency, zeroExNativeSentinel) {
		currency = domain.NativeCurrency
	}

	appendFill(data, domain.FillEvent{
		OrderKind:       kind,
		OrderID:         zeroExV4OrderID(kind, maker, nonce),
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

func (h *zeroExV4Handler) handleCancel(ev EnhancedEvent, data *domain.OnChainData, kind domain.OrderKind) {
	maker, ok1 := dataAddress(ev.Log.Data, 0)
	nonce, ok2 := dataBig(ev.Log.Data, 1)
	if !ok1 || !ok2 {
		return
	}
	data.NonceCancelEvents = append(data.NonceCancelEvents, domain.NonceCancelEvent{
		OrderKind:       kind,
		Maker:           maker,
		Nonce:           nonce.String(),
		BaseEventParams: ev.Base,
	})
}

// zeroExV4OrderID derives a deterministic order id from the protocol's
// uniqueness scope
func zeroExV4OrderID(kind domain.OrderKind, maker string, nonce *big.Int) string {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("%s-%s-%s", kind, maker, nonce.String())),
	).Hex()
}
