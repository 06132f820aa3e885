package decoder

import (
	"fmt"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindERC20Transfer  = "erc20-transfer"
	SubKindWethDeposit    = "weth-deposit"
	SubKindWethWithdrawal = "weth-withdrawal"
)

var (
	topicWethDeposit    = eventTopic("Deposit(address,uint256)")
	topicWethWithdrawal = eventTopic("Withdrawal(address,uint256)")
)

type erc20Handler struct{}

// NewERC20Handler decodes ERC20 transfers plus wrapped-native deposits and
// withdrawals. Deposits and withdrawals are normalized into transfers with
// the zero address on the minted or burned side so buy-side maker balance
// triggers fall out of one code path.
func NewERC20Handler() Handler {
	return &erc20Handler{}
}

func (h *erc20Handler) Kind() Kind {
	return KindERC20
}

func (h *erc20Handler) Events() []EventData {
	return []EventData{
		{
			Kind:      KindERC20,
			SubKind:   SubKindERC20Transfer,
			Topic:     topicTransfer,
			NumTopics: 3,
		},
		{
			Kind:      KindERC20,
			SubKind:   SubKindWethDeposit,
			Topic:     topicWethDeposit,
			NumTopics: 2,
		},
		{
			Kind:      KindERC20,
			SubKind:   SubKindWethWithdrawal,
			Topic:     topicWethWithdrawal,
			NumTopics: 2,
		},
	}
}

func (h *erc20Handler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		var from, to string
		amount, ok := dataBig(ev.Log.Data, 0)
		if !ok {
			continue
		}

		switch ev.SubKind {
		case SubKindERC20Transfer:
			from = topicAddress(ev.Log.Topics[1])
			to = topicAddress(ev.Log.Topics[2])
		case SubKindWethDeposit:
			from = domain.ZeroAddress
			to = topicAddress(ev.Log.Topics[1])
		case SubKindWethWithdrawal:
			from = topicAddress(ev.Log.Topics[1])
			to = domain.ZeroAddress
		}

		data.FtTransferEvents = append(data.FtTransferEvents, domain.FtTransferEvent{
			From:            from,
			To:              to,
			Amount:          amount.String(),
			BaseEventParams: ev.Base,
		})

		trigger := domain.Trigger{
			Kind:        domain.TriggerKindBalanceChange,
			TxHash:      ev.Base.TxHash,
			TxTimestamp: ev.Base.Timestamp,
			BlockHash:   ev.Base.BlockHash,
		}
		for _, maker := range []string{from, to} {
			if maker == domain.ZeroAddress {
				continue
			}
			data.MakerInfos = append(data.MakerInfos, domain.MakerInfo{
				Context: fmt.Sprintf("ft-balance-change-%s-%s-%s",
					ev.Base.TxHash, ev.Base.Address, maker),
				Maker:    maker,
				Kind:     domain.MakerInfoBuyBalance,
				Contract: ev.Base.Address,
				Trigger:  trigger,
			})
		}
	}
	return nil
}
