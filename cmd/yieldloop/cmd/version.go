package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the yieldloop CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yieldloop version %s\n", version)
		fmt.Println("Leveraged staking position simulator with perp hedges and P&L attribution")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
