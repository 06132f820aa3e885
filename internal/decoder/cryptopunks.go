package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindPunkOffered         = "cryptopunks-punk-offered"
	SubKindPunkBidEntered      = "cryptopunks-punk-bid-entered"
	SubKindPunkBidWithdrawn    = "cryptopunks-punk-bid-withdrawn"
	SubKindPunkBought          = "cryptopunks-punk-bought"
	SubKindPunkNoLongerForSale = "cryptopunks-punk-no-longer-for-sale"
	SubKindPunkTransfer        = "cryptopunks-punk-transfer"
	SubKindPunkAssign          = "cryptopunks-assign"
)

var (
	topicPunkOffered         = eventTopic("PunkOffered(uint256,uint256,address)")
	topicPunkBidEntered      = eventTopic("PunkBidEntered(uint256,uint256,address)")
	topicPunkBidWithdrawn    = eventTopic("PunkBidWithdrawn(uint256,uint256,address)")
	topicPunkBought          = eventTopic("PunkBought(uint256,uint256,address,address)")
	topicPunkNoLongerForSale = eventTopic("PunkNoLongerForSale(uint256)")
	topicPunkTransfer        = eventTopic("PunkTransfer(address,address,uint256)")
	topicPunkAssign          = eventTopic("Assign(address,uint256)")
)

var cryptopunksContract = addresses(
	"0xb47e3cd837ddf8e4c57f05d70ab865de6e193bbb",
)

type cryptopunksHandler struct{}

// NewCryptopunksHandler decodes the pre-ERC721 punks market. The contract
// has a well-known quirk: an accepted bid emits PunkBought with a zero
// buyer and zero value, so the real terms are recovered from the
// PunkBidEntered event earlier in the same transaction.
func NewCryptopunksHandler() Handler {
	return &cryptopunksHandler{}
}

func (h *cryptopunksHandler) Kind() Kind {
	return KindCryptopunks
}

func (h *cryptopunksHandler) Events() []EventData {
	return []EventData{
		{Kind: KindCryptopunks, SubKind: SubKindPunkOffered, Topic: topicPunkOffered, NumTopics: 3, Addresses: cryptopunksContract},
		{Kind: KindCryptopunks, SubKind: SubKindPunkBidEntered, Topic: topicPunkBidEntered, NumTopics: 3, Addresses: cryptopunksContract},
		{Kind: KindCryptopunks, SubKind: SubKindPunkBidWithdrawn, Topic: topicPunkBidWithdrawn, NumTopics: 3, Addresses: cryptopunksContract},
		{Kind: KindCryptopunks, SubKind: SubKindPunkBought, Topic: topicPunkBought, NumTopics: 4, Addresses: cryptopunksContract},
		{Kind: KindCryptopunks, SubKind: SubKindPunkNoLongerForSale, Topic: topicPunkNoLongerForSale, NumTopics: 2, Addresses: cryptopunksContract},
		{Kind: KindCryptopunks, SubKind: SubKindPunkTransfer, Topic: topicPunkTransfer, NumTopics: 3, Addresses: cryptopunksContract},
		{Kind: KindCryptopunks, SubKind: SubKindPunkAssign, Topic: topicPunkAssign, NumTopics: 2, Addresses: cryptopunksContract},
	}
}

func (h *cryptopunksHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	// punkIndex -> (bidder, value) seen earlier in this transaction
	type bid struct {
		bidder string
		value  *big.Int
	}
	bids := make(map[string]bid)

	for _, ev := range events {
		switch ev.SubKind {
		case SubKindPunkOffered:
			punkIndex := topicBig(ev.Log.Topics[1]).String()
			orderID := cryptopunksOrderID(punkIndex)
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

		case SubKindPunkBidEntered:
			punkIndex := topicBig(ev.Log.Topics[1]).String()
			bids[punkIndex] = bid{
				bidder: topicAddress(ev.Log.Topics[2]),
				value:  mustDataBig(ev.Log.Data, 0),
			}

		case SubKindPunkBidWithdrawn, SubKindPunkNoLongerForSale:
			punkIndex := topicBig(ev.Log.Topics[1]).String()
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindCryptoPunks,
				OrderID:         cryptopunksOrderID(punkIndex),
				BaseEventParams: ev.Base,
			})

		case SubKindPunkBought:
			punkIndex := topicBig(ev.Log.Topics[1]).String()
			seller := topicAddress(ev.Log.Topics[2])
			buyer := topicAddress(ev.Log.Topics[3])
			value := mustDataBig(ev.Log.Data, 0)

			side := domain.OrderSideSell
			maker, taker := seller, buyer
			if buyer == domain.ZeroAddress {
				// Accepted bid: the log is censored, recover the terms
				// from the bid entered earlier in the transaction
				entered, ok := bids[punkIndex]
				if !ok {
					continue
				}
				side = domain.OrderSideBuy
				maker, taker = entered.bidder, seller
				buyer = entered.bidder
				value = entered.value
			}

			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindCryptoPunks,
				OrderID:         cryptopunksOrderID(punkIndex),
				OrderSide:       side,
				Maker:           maker,
				Taker:           taker,
				Contract:        ev.Base.Address,
				TokenID:         punkIndex,
				Amount:          "1",
				Currency:        domain.NativeCurrency,
				CurrencyPrice:   value.String(),
				BaseEventParams: ev.Base,
			})

			data.NftTransferEvents = append(data.NftTransferEvents, domain.NftTransferEvent{
				Kind:            domain.StandardERC721,
				From:            seller,
				To:              buyer,
				TokenID:         punkIndex,
				Amount:          "1",
				BaseEventParams: ev.Base,
			})

		case SubKindPunkTransfer:
			data.NftTransferEvents = append(data.NftTransferEvents, domain.NftTransferEvent{
				Kind:            domain.StandardERC721,
				From:            topicAddress(ev.Log.Topics[1]),
				To:              topicAddress(ev.Log.Topics[2]),
				TokenID:         mustDataBig(ev.Log.Data, 0).String(),
				Amount:          "1",
				BaseEventParams: ev.Base,
			})

		case SubKindPunkAssign:
			tokenID := mustDataBig(ev.Log.Data, 0).String()
			data.NftTransferEvents = append(data.NftTransferEvents, domain.NftTransferEvent{
				Kind:            domain.StandardERC721,
				From:            domain.ZeroAddress,
				To:              topicAddress(ev.Log.Topics[1]),
				TokenID:         tokenID,
				Amount:          "1",
				BaseEventParams: ev.Base,
			})
			data.MintInfos = append(data.MintInfos, domain.MintInfo{
				Contract: ev.Base.Address,
				TokenID:  tokenID,
				TxHash:   ev.Base.TxHash,
			})
		}
	}
	return nil
}

func cryptopunksOrderID(punkIndex string) string {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("%s-%s", domain.OrderKindCryptoPunks, punkIndex)),
	).Hex()
}
