package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadSymbol rejects a security code no exchange can be derived for.
var ErrBadSymbol = errors.New("invalid security code")

// Symbol is a normalized A-share security identifier: a six digit code plus
// the exchange it trades on.
type Symbol struct {
	Market string // "sh", "sz" or "bj"
	Code   string
}

// String renders the prefixed form used by the sina and tencent wires,
// e.g. "sh600519".
func (s Symbol) String() string { return s.Market + s.Code }

// EastmoneySecID renders the market-dot-code form used by the eastmoney
// push2 wire, e.g. "1.600519". Shanghai is market 1, everything else 0.
func (s Symbol) EastmoneySecID() string {
	if s.Market == "sh" {
		return "1." + s.Code
	}
	return "0." + s.Code
}

var markets = map[string]bool{"sh": true, "sz": true, "bj": true}

// ParseSymbol normalizes the forms users send: "sh600519", "600519.SH" or a
// bare "600519" whose exchange is inferred from the leading digit.
func ParseSymbol(raw string) (Symbol, error) {
	in := strings.ToLower(strings.TrimSpace(raw))

	var market, code string
	switch {
	case len(in) == 8 && markets[in[:2]]:
		market, code = in[:2], in[2:]
	case len(in) == 9 && in[6] == '.' && markets[in[7:]]:
		market, code = in[7:], in[:6]
	case len(in) == 6:
		code = in
		switch in[0] {
		case '6', '9':
			market = "sh"
		case '0', '2', '3':
			market = "sz"
		case '4', '8':
			market = "bj"
		default:
			return Symbol{}, fmt.Errorf("%w %q: cannot infer exchange", ErrBadSymbol, raw)
		}
	default:
		return Symbol{}, fmt.Errorf("%w %q", ErrBadSymbol, raw)
	}

	for _, r := range code {
		if r < '0' || r > '9' {
			return Symbol{}, fmt.Errorf("%w %q", ErrBadSymbol, raw)
		}
	}
	return Symbol{Market: market, Code: code}, nil
}

// ParseSymbols normalizes a batch, rejecting the whole batch on the first
// bad code so a typo never silently drops a symbol from the response.
func ParseSymbols(raw []string) ([]Symbol, error) {
	out := make([]Symbol, 0, len(raw))
	for _, r := range raw {
		s, err := ParseSymbol(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
