package cmd

import (
	"fmt"

	"github.com/rustyeddy/yieldloop/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage simulation configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  yieldloop config init -o my-config.yaml
  yieldloop config validate -f my-config.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.

Example:
  yieldloop config init -o simulation.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded. Risk and venue
parameters are required; nothing is defaulted.

Example:
  yieldloop config validate -f simulation.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "simulation.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  yieldloop run -f %s -d <market.csv>\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Construction: %s (principal %.4f %s)\n", cfg.Construction.Mode, cfg.Construction.Principal, cfg.Assets.BaseAsset)
	fmt.Printf("  Lending: max LTV %.2f, liquidation threshold %.2f, target LTV %.4f\n",
		cfg.Lending.MaxLTV, cfg.Lending.LiquidationThreshold, cfg.TargetLTV())
	if cfg.Hedge.Enabled {
		for _, v := range cfg.Hedge.Venues {
			fmt.Printf("  Hedge: %s %s weight %.2f\n", v.Name, v.Pair, v.Weight)
		}
	}
	fmt.Printf("  Journal: %s\n", cfg.Journal.Type)
	return nil
}
