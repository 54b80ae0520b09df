package sellerconfig

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// ValidationError names the offending field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning is a recommended constraint that was not met
type Warning struct {
	Code    string
	Message string
}

// Validate checks every required constraint and stops at the first failure
func Validate(cfg *File) error {
	if cfg.Meta.Beneficiary != "" && !isAddress(cfg.Meta.Beneficiary) {
		return ValidationError{"meta.beneficiary", "must be a hex address"}
	}
	if len(cfg.Pairs) == 0 {
		return ValidationError{"pairs", "at least one pair is required"}
	}

	seen := make(map[string]int, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		field := func(name string) string { return fmt.Sprintf("pairs[%d].%s", i, name) }

		if !isAddress(p.TokenA) {
			return ValidationError{field("token_a"), "must be a hex address"}
		}
		if !isAddress(p.TokenB) {
			return ValidationError{field("token_b"), "must be a hex address"}
		}
		a, b := common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB)
		if a == b {
			return ValidationError{field("token_b"), "must differ from token_a"}
		}
		key := contracts.PairKey(a, b)
		if j, ok := seen[key]; ok {
			return ValidationError{field("token_a"), fmt.Sprintf("duplicates pairs[%d]", j)}
		}
		seen[key] = i

		if p.DecimalsA > 36 || p.DecimalsB > 36 {
			return ValidationError{field("decimals"), "must be <= 36"}
		}
		if p.PriceFeed != "" && !isAddress(p.PriceFeed) {
			return ValidationError{field("price_feed"), "must be a hex address"}
		}
		if p.ConstantPrice != "" {
			price, ok := new(big.Int).SetString(p.ConstantPrice, 10)
			if !ok || price.Sign() <= 0 {
				return ValidationError{field("constant_price"), "must be a positive integer"}
			}
		}
		if p.PriceFeed == "" && p.ConstantPrice == "" {
			return ValidationError{field("price_feed"), "required without constant_price"}
		}

		switch contracts.BoundKind(p.Bound) {
		case contracts.BoundMargin, contracts.BoundSlippage:
		default:
			return ValidationError{field("bound"), "must be margin or slippage"}
		}
		if p.MaxBoundBps >= contracts.MaxBps {
			return ValidationError{field("max_bound_bps"), fmt.Sprintf("must be < %d", contracts.MaxBps)}
		}
		if p.Receiver != "" && !isAddress(p.Receiver) {
			return ValidationError{field("receiver"), "must be a hex address"}
		}
	}

	return nil
}

// Warn reports non-fatal concerns
func Warn(cfg *File) []Warning {
	var warnings []Warning

	for i, p := range cfg.Pairs {
		if p.MaxBoundBps > 1000 {
			warnings = append(warnings, Warning{
				Code:    "WIDE_BOUND",
				Message: fmt.Sprintf("pairs[%d]: bound above 10%% accepts far off-market fills", i),
			})
		}
		if p.ConstantPrice != "" && p.PriceFeed != "" {
			warnings = append(warnings, Warning{
				Code:    "FEED_SHADOWED",
				Message: fmt.Sprintf("pairs[%d]: constant_price overrides price_feed", i),
			})
		}
		if p.MaxBoundBps == 0 {
			warnings = append(warnings, Warning{
				Code:    "ZERO_BOUND",
				Message: fmt.Sprintf("pairs[%d]: orders must match the reference price exactly", i),
			})
		}
	}

	return warnings
}

func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
