package commands

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// ═══════════════════════════════════════════════════════════
// Common output helpers; every command prints the same way
// ═══════════════════════════════════════════════════════════

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════"
	ruleLight = "───────────────────────────────────────────────────────────"
)

var jsonOutput bool

// printHeader prints a titled block
func printHeader(title string) {
	if jsonOutput {
		return
	}
	fmt.Println()
	fmt.Println(ruleHeavy)
	fmt.Printf("  %s\n", title)
	fmt.Println(ruleLight)
}

// printField prints one aligned key/value line
func printField(key string, value interface{}) {
	if jsonOutput {
		return
	}
	fmt.Printf("  %-14s: %v\n", key, value)
}

func printFooter() {
	if jsonOutput {
		return
	}
	fmt.Println(ruleHeavy)
}

// printJSON writes v when --json is set and reports whether it did
func printJSON(v interface{}) bool {
	if !jsonOutput {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}

// formatAmount renders base units as "1.5 (1500000000000000000)"
func formatAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		v = new(big.Int)
	}
	return fmt.Sprintf("%s (%s)", contracts.FormatUnits(v, decimals), v.String())
}

func printRecord(rec contracts.OrderRecord, decimals func(common.Address) uint8) {
	printField("UID", rec.UID.Hex())
	printField("State", strings.ToUpper(rec.State.String()))
	printField("Sell", fmt.Sprintf("%s %s", formatAmount(rec.SellAmount, decimals(rec.SellToken)), rec.SellToken.Hex()))
	printField("Buy", fmt.Sprintf("%s %s", formatAmount(rec.BuyAmount, decimals(rec.BuyToken)), rec.BuyToken.Hex()))
	printField("Valid to", rec.ValidTo)
	if !rec.SettledAt.IsZero() {
		printField("Settled at", rec.SettledAt.Format("2006-01-02 15:04:05"))
	}
	if !rec.ClosedAt.IsZero() {
		printField("Closed at", rec.ClosedAt.Format("2006-01-02 15:04:05"))
	}
}

func printPair(p contracts.PairConfig) {
	printField("Pair", p.Key())
	printField("Decimals", fmt.Sprintf("%d / %d", p.DecimalsA, p.DecimalsB))
	if p.HasConstantPrice() {
		printField("Price", "constant "+p.ConstantPrice.String())
	} else {
		printField("Feed", p.PriceFeed.Hex())
	}
	printField("Bound", fmt.Sprintf("%s %d bps", p.BoundKind, p.MaxBoundBps))
	printField("Receiver", p.Receiver.Hex())
	if p.ProbeFallback {
		printField("Fallback", "probe")
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine readable JSON")
}
