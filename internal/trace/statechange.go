package trace

import (
	"math/big"
	"strings"
)

// Well-known ERC20/WETH selectors used when replaying balance movements
const (
	selectorTransfer     = "a9059cbb" // transfer(address,uint256)
	selectorTransferFrom = "23b872dd" // transferFrom(address,address,uint256)
	selectorDeposit      = "d0e30db0" // deposit()
	selectorWithdraw     = "2e1a7d4d" // withdraw(uint256)
)

// NativeAsset keys native-currency deltas in a BalanceChanges map
const NativeAsset = "native"

// ERC20Asset keys a token's deltas in a BalanceChanges map
func ERC20Asset(token string) string {
	return "erc20:" + strings.ToLower(token)
}

// BalanceChanges maps address -> asset key -> net balance delta produced by
// replaying a call trace. Addresses and asset keys are lowercase.
type BalanceChanges map[string]map[string]*big.Int

// Delta returns the recorded delta for an address/asset pair (zero when absent)
func (b BalanceChanges) Delta(address, asset string) *big.Int {
	if inner, ok := b[strings.ToLower(address)]; ok {
		if v, ok := inner[asset]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b BalanceChanges) add(address, asset string, delta *big.Int) {
	if delta.Sign() == 0 {
		return
	}
	address = strings.ToLower(address)
	inner, ok := b[address]
	if !ok {
		inner = make(map[string]*big.Int)
		b[address] = inner
	}
	if v, ok := inner[asset]; ok {
		inner[asset] = new(big.Int).Add(v, delta)
	} else {
		inner[asset] = new(big.Int).Set(delta)
	}
}

// GetStateChange replays a transaction's call trace into net per-address
// balance deltas. Native value transfers come from CALL frames; ERC20
// movements are recognized from transfer/transferFrom/deposit/withdraw
// calldata. Reverted frames and their subtrees contribute nothing.
func GetStateChange(c *CallTrace) BalanceChanges {
	changes := make(BalanceChanges)
	replayCall(c, changes)
	return changes
}

func replayCall(c *CallTrace, changes BalanceChanges) {
	if c.Error != "" {
		return
	}

	if c.CarriesValue() {
		if value := c.ValueBig(); value.Sign() > 0 {
			changes.add(c.From, NativeAsset, new(big.Int).Neg(value))
			changes.add(c.To, NativeAsset, value)
		}
	}

	if strings.EqualFold(c.Type, "CALL") {
		replayERC20(c, changes)
	}

	for i := range c.Calls {
		replayCall(&c.Calls[i], changes)
	}
}

func replayERC20(c *CallTrace, changes BalanceChanges) {
	args := strings.TrimPrefix(strings.ToLower(c.Input), "0x")
	if len(args) < 8 {
		return
	}
	selector, args := args[:8], args[8:]
	token := ERC20Asset(c.To)

	switch selector {
	case selectorTransfer:
		to, ok1 := wordAddress(args, 0)
		amount, ok2 := wordBig(args, 1)
		if ok1 && ok2 {
			changes.add(c.From, token, new(big.Int).Neg(amount))
			changes.add(to, token, amount)
		}
	case selectorTransferFrom:
		from, ok1 := wordAddress(args, 0)
		to, ok2 := wordAddress(args, 1)
		amount, ok3 := wordBig(args, 2)
		if ok1 && ok2 && ok3 {
			changes.add(from, token, new(big.Int).Neg(amount))
			changes.add(to, token, amount)
		}
	case selectorDeposit:
		// Wrapping mints token balance for the caller; the native leg is
		// already covered by the CALL value above
		if value := c.ValueBig(); value.Sign() > 0 {
			changes.add(c.From, token, value)
		}
	case selectorWithdraw:
		if amount, ok := wordBig(args, 0); ok {
			changes.add(c.From, token, new(big.Int).Neg(amount))
		}
	}
}

func wordAddress(args string, index int) (string, bool) {
	word, ok := word(args, index)
	if !ok {
		return "", false
	}
	return "0x" + word[24:], true
}

func wordBig(args string, index int) (*big.Int, bool) {
	word, ok := word(args, index)
	if !ok {
		return nil, false
	}
	v, ok := new(big.Int).SetString(word, 16)
	return v, ok
}

func word(args string, index int) (string, bool) {
	start := index * 64
	if len(args) < start+64 {
		return "", false
	}
	return args[start : start+64], true
}
