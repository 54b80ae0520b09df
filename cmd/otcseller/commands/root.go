package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "otcseller",
	Short: "Treasury token seller for CoW Protocol pre-signed orders",
	Long: `otcseller sells treasury tokens through CoW Protocol.

Orders are checked against a Chainlink price bound, pre-signed from the
seller account, and their proceeds are swept back to the treasury agent
once the protocol fills them.

Configuration is read from the environment (.env is loaded if present).

Examples:
  otcseller deploy
  otcseller finalize
  otcseller order check --file order.json
  otcseller order settle --file order.json
  otcseller api --poll`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
