package decoder

import (
	"math/big"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindERC1155TransferSingle = "erc1155-transfer-single"
	SubKindERC1155TransferBatch  = "erc1155-transfer-batch"
)

var (
	topicTransferSingle = eventTopic("TransferSingle(address,address,address,uint256,uint256)")
	topicTransferBatch  = eventTopic("TransferBatch(address,address,address,uint256[],uint256[])")
)

type erc1155Handler struct{}

// NewERC1155Handler decodes single and batch ERC1155 transfers. Batch
// transfers fan out into one canonical event per array element with
// ascending batch indices, keeping the idempotency key unique.
func NewERC1155Handler() Handler {
	return &erc1155Handler{}
}

func (h *erc1155Handler) Kind() Kind {
	return KindERC1155
}

func (h *erc1155Handler) Events() []EventData {
	return []EventData{
		{
			Kind:      KindERC1155,
			SubKind:   SubKindERC1155TransferSingle,
			Topic:     topicTransferSingle,
			NumTopics: 4,
		},
		{
			Kind:      KindERC1155,
			SubKind:   SubKindERC1155TransferBatch,
			Topic:     topicTransferBatch,
			NumTopics: 4,
		},
	}
}

func (h *erc1155Handler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		from := topicAddress(ev.Log.Topics[2])
		to := topicAddress(ev.Log.Topics[3])

		switch ev.SubKind {
		case SubKindERC1155TransferSingle:
			tokenID, ok1 := dataBig(ev.Log.Data, 0)
			amount, ok2 := dataBig(ev.Log.Data, 1)
			if !ok1 || !ok2 {
				continue
			}
			h.appendTransfer(data, ev.Base, from, to, tokenID.String(), amount.String())

		case SubKindERC1155TransferBatch:
			tokenIDs, amounts, ok := decodeBatchArrays(ev.Log.Data)
			if !ok || len(tokenIDs) != len(amounts) {
				continue
			}
			for i := range tokenIDs {
				h.appendTransfer(data,
					ev.Base.WithBatchIndex(uint64(i+1)),
					from, to, tokenIDs[i].String(), amounts[i].String())
			}
		}
	}
	return nil
}

func (h *erc1155Handler) appendTransfer(data *domain.OnChainData, base domain.BaseEventParams, from, to, tokenID, amount string) {
	data.NftTransferEvents = append(data.NftTransferEvents, domain.NftTransferEvent{
		Kind:            domain.StandardERC1155,
		From:            from,
		To:              to,
		TokenID:         tokenID,
		Amount:          amount,
		BaseEventParams: base,
	})

	appendTransferMakerInfos(data, base, from, to, tokenID)

	if from == domain.ZeroAddress {
		data.MintInfos = append(data.MintInfos, domain.MintInfo{
			Contract: base.Address,
			TokenID:  tokenID,
			TxHash:   base.TxHash,
		})
	}
}

// decodeBatchArrays unpacks the two dynamic uint256 arrays of a
// TransferBatch data section (offset, offset, then length-prefixed words)
func decodeBatchArrays(data []byte) ([]*big.Int, []*big.Int, bool) {
	idsOffset, ok1 := dataBig(data, 0)
	amountsOffset, ok2 := dataBig(data, 1)
	if !ok1 || !ok2 {
		return nil, nil, false
	}
	ids, ok := decodeBigArray(data, idsOffset)
	if !ok {
		return nil, nil, false
	}
	amounts, ok := decodeBigArray(data, amountsOffset)
	if !ok {
		return nil, nil, false
	}
	return ids, amounts, true
}

func decodeBigArray(data []byte, offset *big.Int) ([]*big.Int, bool) {
	if !offset.IsInt64() || offset.Int64()%32 != 0 {
		return nil, false
	}
	start := int(offset.Int64() / 32)
	length, ok := dataBig(data, start)
	if !ok || !length.IsInt64() {
		return nil, false
	}
	// Cap the claimed length by the words actually present before
	// allocating anything
	n := int(length.Int64())
	if n < 0 || n > len(data)/32-(start+1) {
		return nil, false
	}
	out := make([]*big.Int, 0, n)
	for i := 0; i < n; i++ {
		v, ok := dataBig(data, start+1+i)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
