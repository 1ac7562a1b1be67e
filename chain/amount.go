package chain

import (
	"math/big"
)

// tokenDecimals matches the EDU token contract; amounts cross the API as
// floating point token units and live on chain as integer wei.
const tokenDecimals = 18

var weiPerToken = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil))

// ToWei converts a token amount into its integer on-chain representation,
// truncating anything below one wei.
func ToWei(amount float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), weiPerToken)
	wei, _ := scaled.Int(nil)
	return wei
}

// FromWei converts an on-chain integer amount back into token units.
func FromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerToken).Float64()
	return out
}
