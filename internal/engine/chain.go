package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// Selectors for the read-only probes maker revalidation relies on
var (
	selOwnerOf          = hexutil.MustDecode("0x6352211e") // ownerOf(uint256)
	selBalanceOf        = hexutil.MustDecode("0x70a08231") // balanceOf(address)
	selBalanceOfERC1155 = hexutil.MustDecode("0x00fdd58e") // balanceOf(address,uint256)
)

func (e *Engine) ethCall(ctx context.Context, to string, calldata []byte) ([]byte, error) {
	var result hexutil.Bytes
	err := e.eth.CallContext(ctx, &result, "eth_call", map[string]interface{}{
		"to":   to,
		"data": hexutil.Encode(calldata),
	}, "latest")
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ownsToken probes whether owner currently holds tokenID on contract.
// ERC1155 is tried first; contracts that revert the two-argument
// balanceOf fall back to the ERC721 ownerOf comparison.
func (e *Engine) ownsToken(ctx context.Context, contract string, owner string, tokenID string) (bool, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return false, fmt.Errorf("malformed token id %q", tokenID)
	}
	ownerBytes := common.HexToAddress(owner).Bytes()

	calldata := append(append(append([]byte{}, selBalanceOfERC1155...),
		common.LeftPadBytes(ownerBytes, 32)...),
		common.LeftPadBytes(id.Bytes(), 32)...)
	if out, err := e.ethCall(ctx, contract, calldata); err == nil && len(out) >= 32 {
		return new(big.Int).SetBytes(out[:32]).Sign() > 0, nil
	}

	calldata = append(append([]byte{}, selOwnerOf...), common.LeftPadBytes(id.Bytes(), 32)...)
	out, err := e.ethCall(ctx, contract, calldata)
	if err != nil {
		// Burned tokens revert ownerOf; nobody owns them
		return false, nil
	}
	if len(out) < 32 {
		return false, nil
	}
	holder := domain.NormalizeAddress(common.BytesToAddress(out[12:32]).Hex())
	return holder == domain.NormalizeAddress(owner), nil
}

// ftBalance reads owner's ERC20 balance on token
func (e *Engine) ftBalance(ctx context.Context, token string, owner string) (*big.Int, error) {
	calldata := append(append([]byte{}, selBalanceOf...),
		common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)
	out, err := e.ethCall(ctx, token, calldata)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s on %s: %w", owner, token, err)
	}
	if len(out) < 32 {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
