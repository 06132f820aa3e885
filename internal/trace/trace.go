package trace

import (
	"math/big"
	"strings"
)

// CallTrace is a single frame of a callTracer transaction trace. Hex-encoded
// fields are kept as strings the way the RPC returns them; addresses are
// normalized to lowercase on access.
type CallTrace struct {
	Type    string      `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Value   string      `json:"value"`
	Gas     string      `json:"gas"`
	GasUsed string      `json:"gasUsed"`
	Input   string      `json:"input"`
	Output  string      `json:"output"`
	Error   string      `json:"error"`
	Calls   []CallTrace `json:"calls"`
}

// IsCall reports whether the frame actually executes against its target
// (CALL/CALLCODE carry value, DELEGATECALL/STATICCALL do not)
func (c *CallTrace) IsCall() bool {
	switch strings.ToUpper(c.Type) {
	case "CALL", "CALLCODE", "DELEGATECALL", "STATICCALL":
		return true
	default:
		return false
	}
}

// CarriesValue reports whether the frame moves native currency
func (c *CallTrace) CarriesValue() bool {
	t := strings.ToUpper(c.Type)
	return t == "CALL" || t == "CALLCODE"
}

// ValueBig parses the frame's value as a big integer, nil-safe
func (c *CallTrace) ValueBig() *big.Int {
	return parseHexBig(c.Value)
}

// Selector returns the 4-byte function selector of the frame's input
// (without the 0x prefix), or "" when the input is bare
func (c *CallTrace) Selector() string {
	input := strings.TrimPrefix(strings.ToLower(c.Input), "0x")
	if len(input) < 8 {
		return ""
	}
	return input[:8]
}

// SearchForCall walks the trace depth-first and returns the nth frame
// (0-based) whose target matches to. Reverted frames are skipped so the
// caller always lands on a call that actually executed.
func SearchForCall(c *CallTrace, to string, nth int) *CallTrace {
	found, _ := searchForCall(c, strings.ToLower(to), nth, 0)
	return found
}

func searchForCall(c *CallTrace, to string, nth, seen int) (*CallTrace, int) {
	if c.Error == "" && c.IsCall() && strings.ToLower(c.To) == to {
		if seen == nth {
			return c, seen
		}
		seen++
	}
	for i := range c.Calls {
		var found *CallTrace
		found, seen = searchForCall(&c.Calls[i], to, nth, seen)
		if found != nil {
			return found, seen
		}
	}
	return nil, seen
}

func parseHexBig(s string) *big.Int {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return new(big.Int)
	}
	return v
}
