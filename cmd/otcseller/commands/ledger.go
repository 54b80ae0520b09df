package commands

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/validator"
)

var (
	reservedCmd = &cobra.Command{
		Use:   "reserved [token]",
		Short: "Show funds held for open orders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReserved,
	}

	priceCmd = &cobra.Command{
		Use:   "price",
		Short: "Show the oracle price and, with --amount, the minimum buy amount",
		RunE:  runPrice,
	}

	priceSell   string
	priceBuy    string
	priceAmount string
	priceFee    string
)

func init() {
	rootCmd.AddCommand(reservedCmd, priceCmd)

	priceCmd.Flags().StringVar(&priceSell, "sell", "", "sell token")
	priceCmd.Flags().StringVar(&priceBuy, "buy", "", "buy token")
	priceCmd.Flags().StringVar(&priceAmount, "amount", "", "sell amount in token units, e.g. 10.5")
	priceCmd.Flags().StringVar(&priceFee, "fee", "0", "fee amount in token units")
	_ = priceCmd.MarkFlagRequired("sell")
	_ = priceCmd.MarkFlagRequired("buy")
}

func runReserved(cmd *cobra.Command, args []string) error {
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	reserved := make(map[common.Address]*big.Int)
	if len(args) == 1 {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid token %q", args[0])
		}
		token := common.HexToAddress(args[0])
		amount, err := s.ledger.Reserved(cmd.Context(), token)
		if err != nil {
			return err
		}
		reserved[token] = amount
	} else if reserved, err = s.ledger.ReservedAll(cmd.Context()); err != nil {
		return err
	}

	if printJSON(reserved) {
		return nil
	}
	printHeader("Reserved for open orders")
	if len(reserved) == 0 {
		printField("-", "nothing reserved")
	}
	for token, amount := range reserved {
		printField(token.Hex()[:10], formatAmount(amount, s.decimalsOf(token)))
	}
	printFooter()
	return nil
}

func runPrice(cmd *cobra.Command, args []string) error {
	if !common.IsHexAddress(priceSell) || !common.IsHexAddress(priceBuy) {
		return fmt.Errorf("--sell and --buy must be token addresses")
	}
	sell, buy := common.HexToAddress(priceSell), common.HexToAddress(priceBuy)

	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	pair, dir, ok := s.env.Registry.Lookup(sell, buy)
	if !ok {
		return &contracts.ValidationError{Reason: contracts.ReasonUnsupportedPair}
	}
	quote, kind, bps, err := s.oracle.PriceAndBound(cmd.Context(), pair, dir)
	if err != nil {
		return err
	}

	out := map[string]interface{}{"direction": dir.String(), "quote": quote, "boundKind": kind, "maxBoundBps": bps}
	sellDec, buyDec := pair.Decimals(dir)

	if priceAmount != "" {
		amount, err := contracts.ParseUnits(priceAmount, sellDec)
		if err != nil {
			return fmt.Errorf("--amount: %w", err)
		}
		fee, err := contracts.ParseUnits(priceFee, sellDec)
		if err != nil {
			return fmt.Errorf("--fee: %w", err)
		}
		bound, err := s.validator.MinimumFor(cmd.Context(), sell, buy, amount, fee)
		if err != nil {
			return err
		}
		out["bound"] = bound
	}
	if printJSON(out) {
		return nil
	}

	printHeader(fmt.Sprintf("Price %s → %s", sell.Hex()[:10], buy.Hex()[:10]))
	printField("Direction", dir)
	printField("Price", fmt.Sprintf("%s (%s)", contracts.FormatUnits(quote.Price, quote.Decimals), quote.Source))
	printField("Bound", fmt.Sprintf("%s %d bps", kind, bps))
	if !quote.UpdatedAt.IsZero() {
		printField("Updated", quote.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if b, ok := out["bound"]; ok {
		printField("Min buy", formatAmount(b.(*validator.Bound).MinBuyAmount, buyDec))
	}
	printFooter()
	return nil
}
