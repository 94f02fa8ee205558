package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "farmer",
		Short:        "Poultry farm backend: feed inventory, crops, vaccinations and WhatsApp commands",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (defaults to ./.env when present)")

	root.AddCommand(
		newServeCommand(&envFile),
		newMigrateCommand(&envFile),
		newReconcileCommand(&envFile),
		newSweepCommand(&envFile),
	)
	return root
}
