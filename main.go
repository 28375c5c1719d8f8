package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dotenv string
	root := &cobra.Command{
		Use:           "funnel-engine",
		Short:         "Scripted diagnostic chat and timed sales page with attribution forwarding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dotenv, "env-file", ".env", "optional dotenv file read before the environment")

	root.AddCommand(newServeCmd(&dotenv), newLinkCmd(&dotenv), newQuestionsCmd(&dotenv), newSimulateCmd(&dotenv))
	return root
}
