package decoder

import (
	"fmt"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindERC721Transfer    = "erc721-transfer"
	SubKindNftApprovalForAll = "erc721/1155-approval-for-all"
)

var (
	topicTransfer       = eventTopic("Transfer(address,address,uint256)")
	topicApprovalForAll = eventTopic("ApprovalForAll(address,address,bool)")
)

type erc721Handler struct{}

// NewERC721Handler decodes ERC721 transfers and operator approvals into
// canonical events plus the maker revalidation triggers they imply
func NewERC721Handler() Handler {
	return &erc721Handler{}
}

func (h *erc721Handler) Kind() Kind {
	return KindERC721
}

func (h *erc721Handler) Events() []EventData {
	return []EventData{
		{
			Kind:      KindERC721,
			SubKind:   SubKindERC721Transfer,
			Topic:     topicTransfer,
			NumTopics: 4,
		},
		{
			Kind:      KindERC721,
			SubKind:   SubKindNftApprovalForAll,
			Topic:     topicApprovalForAll,
			NumTopics: 3,
		},
	}
}

func (h *erc721Handler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindERC721Transfer:
			from := topicAddress(ev.Log.Topics[1])
			to := topicAddress(ev.Log.Topics[2])
			tokenID := topicBig(ev.Log.Topics[3]).String()

			data.NftTransferEvents = append(data.NftTransferEvents, domain.NftTransferEvent{
				Kind:            domain.StandardERC721,
				From:            from,
				To:              to,
				TokenID:         tokenID,
				Amount:          "1",
				BaseEventParams: ev.Base,
			})

			appendTransferMakerInfos(data, ev.Base, from, to, tokenID)

			if from == domain.ZeroAddress {
				data.MintInfos = append(data.MintInfos, domain.MintInfo{
					Contract: ev.Base.Address,
					TokenID:  tokenID,
					TxHash:   ev.Base.TxHash,
				})
			}

		case SubKindNftApprovalForAll:
			owner := topicAddress(ev.Log.Topics[1])
			operator := topicAddress(ev.Log.Topics[2])
			approved, ok := dataBig(ev.Log.Data, 0)
			if !ok {
				continue
			}

			data.NftApprovalEvents = append(data.NftApprovalEvents, domain.NftApprovalEvent{
				Owner:           owner,
				Operator:        operator,
				Approved:        approved.Sign() > 0,
				BaseEventParams: ev.Base,
			})

			data.MakerInfos = append(data.MakerInfos, domain.MakerInfo{
				Context: fmt.Sprintf("%s-%s-%s-%s-sell-approval",
					ev.SubKind, ev.Base.TxHash, ev.Base.Address, owner),
				Maker:    owner,
				Kind:     domain.MakerInfoSellApproval,
				Contract: ev.Base.Address,
				Operator: operator,
				Approved: approved.Sign() > 0,
				Trigger:  approvalTrigger(ev.Base),
			})
		}
	}
	return nil
}

// appendTransferMakerInfos records that both sides of a transfer may now
// hold a different balance, so their open sell orders need revalidation
func appendTransferMakerInfos(data *domain.OnChainData, base domain.BaseEventParams, from, to, tokenID string) {
	trigger := domain.Trigger{
		Kind:        domain.TriggerKindBalanceChange,
		TxHash:      base.TxHash,
		TxTimestamp: base.Timestamp,
		BlockHash:   base.BlockHash,
	}
	for _, maker := range []string{from, to} {
		if maker == domain.ZeroAddress {
			continue
		}
		data.MakerInfos = append(data.MakerInfos, domain.MakerInfo{
			Context: fmt.Sprintf("nft-balance-change-%s-%s-%s-%s",
				base.TxHash, base.Address, tokenID, maker),
			Maker:    maker,
			Kind:     domain.MakerInfoSellBalance,
			Contract: base.Address,
			TokenID:  tokenID,
			Trigger:  trigger,
		})
	}
}

func approvalTrigger(base domain.BaseEventParams) domain.Trigger {
	return domain.Trigger{
		Kind:        domain.TriggerKindApprovalChange,
		TxHash:      base.TxHash,
		TxTimestamp: base.Timestamp,
		BlockHash:   base.BlockHash,
	}
}
