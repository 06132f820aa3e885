package royalty

import "github.com/openfloor/marketplace-indexer/internal/domain"

// DefaultPlatformFees lists the known operator fee wallets per protocol.
// The set is deliberately static configuration: classification must not
// depend on mutable external state.
func DefaultPlatformFees() map[domain.OrderKind][]string {
	opensea := []string{
		"0x5b3256965e7c3cf26e11fcaf296dfc8807c01073",
		"0x8de9c5a032463c561423387a9648c5c7bcc5bc90",
		"0x0000a26b00c1f0df003000390027140000faa719",
	}
	return map[domain.OrderKind][]string{
		domain.OrderKindWyvernV23: opensea,
		domain.OrderKindSeaport:   opensea,
		domain.OrderKindLooksRare: {
			"0x5924a28caaf1cc016617874a2f0c3710d881f3c1",
		},
		domain.OrderKindX2Y2: {
			"0xd823c605807cc5e6bd6fc0d7e4eea50d3e2d66cd",
		},
		domain.OrderKindFoundation: {
			"0x67df244584b67e8c51b10ad610aaffa9a402fdb6",
		},
		domain.OrderKindElementERC721: {
			"0x00ca62445b06a9adc1879a44485b4efdcb7b75f3",
		},
		domain.OrderKindElementERC1155: {
			"0x00ca62445b06a9adc1879a44485b4efdcb7b75f3",
		},
		domain.OrderKindZora: {
			"0xd1d1d4e36117ab794ec5d4c78cbd3a8904e691d0",
		},
	}
}
