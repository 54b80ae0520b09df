package commands

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/deploy"
	"github.com/wonny/otcseller/internal/sellerconfig"
)

var (
	pairsCmd = &cobra.Command{
		Use:   "pairs",
		Short: "List, create or edit seller pairs",
	}

	pairsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List configured pairs",
		RunE:  runPairsList,
	}

	pairsCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Register a new pair (operator or admin)",
		Long: `Registers a pair in the deployment. A pair that already exists in either
orientation is rejected. The feed must quote token-b per one token-a.

Example:
  otcseller pairs create --token-a 0xA0b8... --token-b 0x6B17... \
    --decimals-a 6 --decimals-b 18 --feed 0x... --bound margin --max-bound-bps 50`,
		RunE: runPairsCreate,
	}

	pairsSetBoundCmd = &cobra.Command{
		Use:   "set-bound",
		Short: "Change a pair's bound kind and maximum deviation (operator or admin)",
		RunE:  runPairEdit(editBound),
	}

	pairsSetPriceCmd = &cobra.Command{
		Use:   "set-price",
		Short: "Set or clear a pair's constant price (operator or admin)",
		Long: `Overrides the feed with a fixed price in token-b base units per one token-a.
Pass --price 0 to clear the override and use the feed again.`,
		RunE: runPairEdit(editPrice),
	}

	pairsSetReceiverCmd = &cobra.Command{
		Use:   "set-receiver",
		Short: "Change where a pair's bought tokens are delivered (operator or admin)",
		RunE:  runPairEdit(editReceiver),
	}

	newPair  sellerconfig.Pair
	editPair pairEdit
)

// pairEdit holds the flags shared by the pairs set-* commands
type pairEdit struct {
	TokenA   string
	TokenB   string
	Bound    string
	Bps      uint16
	Price    string
	Receiver string
}

type pairField int

const (
	editBound pairField = iota
	editPrice
	editReceiver
)

func init() {
	rootCmd.AddCommand(pairsCmd)
	pairsCmd.AddCommand(pairsListCmd, pairsCreateCmd, pairsSetBoundCmd, pairsSetPriceCmd, pairsSetReceiverCmd)

	f := pairsCreateCmd.Flags()
	f.StringVar(&newPair.TokenA, "token-a", "", "base token")
	f.StringVar(&newPair.TokenB, "token-b", "", "quote token")
	f.Uint8Var(&newPair.DecimalsA, "decimals-a", 18, "base token decimals")
	f.Uint8Var(&newPair.DecimalsB, "decimals-b", 18, "quote token decimals")
	f.StringVar(&newPair.PriceFeed, "feed", "", "Chainlink aggregator quoting token-b per token-a")
	f.StringVar(&newPair.Bound, "bound", string(contracts.BoundSlippage), "margin or slippage")
	f.Uint16Var(&newPair.MaxBoundBps, "max-bound-bps", sellerconfig.DefaultBoundBps, "maximum deviation in basis points")
	f.StringVar(&newPair.ConstantPrice, "constant-price", "", "fixed price overriding the feed")
	f.StringVar(&newPair.Receiver, "receiver", "", "receiver of bought tokens (default: the seller)")
	f.BoolVar(&newPair.ProbeFallback, "probe-fallback", false, "bound on the swap probe when the feed is unavailable")
	f.StringVar(&callerFlag, "caller", "", "acting address (default: the seller key)")
	_ = pairsCreateCmd.MarkFlagRequired("token-a")
	_ = pairsCreateCmd.MarkFlagRequired("token-b")

	for _, c := range []*cobra.Command{pairsSetBoundCmd, pairsSetPriceCmd, pairsSetReceiverCmd} {
		f := c.Flags()
		f.StringVar(&editPair.TokenA, "token-a", "", "first token of the pair")
		f.StringVar(&editPair.TokenB, "token-b", "", "second token of the pair")
		f.StringVar(&callerFlag, "caller", "", "acting address (default: the seller key)")
		_ = c.MarkFlagRequired("token-a")
		_ = c.MarkFlagRequired("token-b")
	}
	pairsSetBoundCmd.Flags().StringVar(&editPair.Bound, "bound", string(contracts.BoundSlippage), "margin or slippage")
	pairsSetBoundCmd.Flags().Uint16Var(&editPair.Bps, "max-bound-bps", sellerconfig.DefaultBoundBps, "maximum deviation in basis points")
	pairsSetPriceCmd.Flags().StringVar(&editPair.Price, "price", "", "token-b base units per one token-a, 0 clears")
	pairsSetReceiverCmd.Flags().StringVar(&editPair.Receiver, "receiver", "", "receiver of bought tokens")
	_ = pairsSetPriceCmd.MarkFlagRequired("price")
	_ = pairsSetReceiverCmd.MarkFlagRequired("receiver")
}

// mutation turns the flags into a registry update run as caller
func (p pairEdit) mutation(field pairField, caller common.Address) (func(env *deploy.Environment) error, error) {
	if !common.IsHexAddress(p.TokenA) || !common.IsHexAddress(p.TokenB) {
		return nil, fmt.Errorf("--token-a and --token-b must be token addresses")
	}
	a, b := common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB)

	switch field {
	case editBound:
		kind := contracts.BoundKind(p.Bound)
		return func(env *deploy.Environment) error {
			return env.Registry.SetMaxBound(caller, a, b, kind, p.Bps)
		}, nil
	case editPrice:
		price, ok := new(big.Int).SetString(p.Price, 10)
		if !ok || price.Sign() < 0 {
			return nil, fmt.Errorf("--price %q must be a non-negative integer", p.Price)
		}
		return func(env *deploy.Environment) error {
			return env.Registry.SetConstantPrice(caller, a, b, price)
		}, nil
	case editReceiver:
		if !common.IsHexAddress(p.Receiver) {
			return nil, fmt.Errorf("--receiver must be an address")
		}
		receiver := common.HexToAddress(p.Receiver)
		return func(env *deploy.Environment) error {
			return env.Registry.SetReceiver(caller, a, b, receiver)
		}, nil
	}
	return nil, fmt.Errorf("unknown pair field %d", field)
}

func runPairEdit(field pairField) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		caller, err := a.signer(callerFlag)
		if err != nil {
			return err
		}
		mutate, err := editPair.mutation(field, caller)
		if err != nil {
			return err
		}
		env, err := deploy.Update(a.state, mutate)
		if err != nil {
			return err
		}

		pair, _, ok := env.Registry.Lookup(common.HexToAddress(editPair.TokenA), common.HexToAddress(editPair.TokenB))
		if !ok {
			return fmt.Errorf("pair %s/%s: %w", editPair.TokenA, editPair.TokenB, contracts.ErrNotFound)
		}
		a.log.WithField("pair", pair.Key()).Info("Pair updated")
		if printJSON(pair) {
			return nil
		}
		printHeader("Pair updated")
		printPair(pair)
		printFooter()
		return nil
	}
}

func runPairsList(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	env, err := deploy.Load(a.state)
	if err != nil {
		return err
	}

	pairs := env.Registry.Pairs()
	if printJSON(pairs) {
		return nil
	}
	printHeader(fmt.Sprintf("Pairs (%d)", len(pairs)))
	for i, p := range pairs {
		if i > 0 {
			fmt.Println(ruleLight)
		}
		printPair(p)
	}
	printFooter()
	return nil
}

func runPairsCreate(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	caller, err := a.signer(callerFlag)
	if err != nil {
		return err
	}

	// Run the file validator for field-level messages
	if err := sellerconfig.Validate(&sellerconfig.File{Pairs: []sellerconfig.Pair{newPair}}); err != nil {
		return err
	}
	var pairs []contracts.PairConfig
	_, err = deploy.Update(a.state, func(env *deploy.Environment) error {
		pairs, err = (&sellerconfig.File{Pairs: []sellerconfig.Pair{newPair}}).PairConfigs(env.Deployment.Seller)
		if err != nil {
			return err
		}
		return env.Registry.CreateSeller(caller, pairs[0])
	})
	if err != nil {
		return err
	}

	a.log.WithField("pair", pairs[0].Key()).Info("Pair created")
	if printJSON(pairs[0]) {
		return nil
	}
	printHeader("Pair created")
	printPair(pairs[0])
	printFooter()
	return nil
}
