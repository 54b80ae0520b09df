package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/deploy"
	"github.com/wonny/otcseller/internal/sellerconfig"
)

var (
	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Grant roles and register the configured pairs",
		Long: `Creates deployed-<network>.json: every role is granted to both the deployer
and the treasury agent, and the pairs from PAIRS_FILE are registered with
the seller account as receiver. Without PAIRS_FILE the mainnet DAI/WETH
defaults are used. Running it again reuses the existing deployment.`,
		RunE: runDeploy,
	}

	finalizeCmd = &cobra.Command{
		Use:   "finalize",
		Short: "Revoke the deployer's roles",
		RunE:  runFinalize,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Verify the role table against the deployment status",
		RunE:  runCheck,
	}

	deployerFlag string
	callerFlag   string
)

func init() {
	rootCmd.AddCommand(deployCmd, finalizeCmd, checkCmd)

	deployCmd.Flags().StringVar(&deployerFlag, "deployer", "", "deployer address (default: the seller key)")
	finalizeCmd.Flags().StringVar(&callerFlag, "caller", "", "acting address (default: the seller key)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	deployer, err := a.signer(deployerFlag)
	if err != nil {
		return err
	}
	sellerAddr := a.chain.Address()
	if sellerAddr == (common.Address{}) {
		return fmt.Errorf("SELLER_PRIVATE_KEY is required to deploy")
	}

	file, err := loadPairsFile(a.cfg.Seller.PairsFile)
	if err != nil {
		return err
	}
	for _, w := range sellerconfig.Warn(file) {
		a.log.WithField("code", w.Code).Warn(w.Message)
	}

	agent := common.HexToAddress(a.cfg.Chain.TreasuryAddress)
	if file.Meta.Beneficiary != "" {
		agent = common.HexToAddress(file.Meta.Beneficiary)
	}

	env, err := deploy.Deploy(a.state, deploy.Params{
		Network:  a.cfg.Seller.Network,
		Deployer: deployer,
		Agent:    agent,
		Seller:   sellerAddr,
		Config:   file,
	}, a.log)
	if err != nil {
		return err
	}

	return printDeployment(env)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	caller, err := a.signer(callerFlag)
	if err != nil {
		return err
	}
	env, err := deploy.Finalize(a.state, caller, a.log)
	if err != nil {
		return err
	}
	return printDeployment(env)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	env, err := deploy.Check(a.state)
	if env != nil {
		_ = printDeployment(env)
	}
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	if !jsonOutput {
		fmt.Println("✅ Roles match the deployment status")
	}
	return nil
}

// loadPairsFile falls back to the defaults when the file does not exist
func loadPairsFile(path string) (*sellerconfig.File, error) {
	if path == "" {
		return sellerconfig.Default(), nil
	}
	file, _, err := sellerconfig.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return sellerconfig.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return file, nil
}

func printDeployment(env *deploy.Environment) error {
	d := env.Deployment
	if printJSON(d) {
		return nil
	}

	printHeader("Deployment " + d.Network)
	printField("Status", d.SetupStatus)
	printField("Seller", d.Seller.Hex())
	printField("Agent", d.Agent.Hex())
	printField("Deployer", d.Deployer.Hex())
	if d.ConfigHash != "" {
		printField("Config hash", d.ConfigHash)
	}
	for _, r := range contracts.AllRoles {
		holders := env.Roles.Holders(r)
		names := make([]string, len(holders))
		for i, h := range holders {
			names[i] = h.Hex()
		}
		printField(r.String(), names)
	}
	for _, p := range env.Registry.Pairs() {
		fmt.Println(ruleLight)
		printPair(p)
	}
	printFooter()
	return nil
}
