// Command computechaind is the ComputeChain node daemon: a validator key
// and genesis bootstrapper (init) plus the long-running process that wires
// storage, state, consensus, the block pipeline, mempool, proposer, and P2P
// node together (run).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "computechaind",
		Short:         "ComputeChain proof-of-stake node",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	return root
}
