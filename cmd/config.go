package cmd

import (
	"fmt"

	"github.com/ColonelBlimp/crashguard/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, _ []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if f := viper.ConfigFileUsed(); f != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
