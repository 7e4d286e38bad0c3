package chain

import (
	"fmt"
	"math/big"
	"strings"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ToWei converts a decimal BNB amount such as "0.01" to wei. Amounts with
// more than 18 fractional digits are rejected.
func ToWei(amount string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok {
		return nil, fmt.Errorf("chain: invalid amount %q", amount)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("chain: negative amount %q", amount)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !r.IsInt() {
		return nil, fmt.Errorf("chain: amount %q has more than 18 decimals", amount)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FromWei formats wei as a decimal BNB amount without trailing zeros.
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	whole, frac := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", 18-len(digits)) + digits
		out += "." + strings.TrimRight(digits, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
