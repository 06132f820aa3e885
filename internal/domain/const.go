package domain

const (
	// ZeroAddress is the canonical null address (mint source, burn sink,
	// native currency identifier)
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// ZeroHash is the canonical null order id
	ZeroHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

	// NativeCurrency identifies the chain's native currency in fill events.
	// Protocols that settle in raw ETH report this as the settlement currency.
	NativeCurrency = ZeroAddress

	// BpsDenominator is the basis-point scale (10000 bps = 100%)
	BpsDenominator = 10000
)
