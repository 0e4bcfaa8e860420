package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hyescribe/hyescribe/cmd/probe"
	"github.com/hyescribe/hyescribe/cmd/serve"
	"github.com/hyescribe/hyescribe/cmd/support"
	"github.com/hyescribe/hyescribe/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "hyescribe",
		Short:   "Hyescribe transcription service CLI",
		Version: version,
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings, version),
		probe.Command(settings),
		support.Command(settings, version),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Providers.Default, "provider", viper.GetString("providers.default"), "Default transcription provider")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
