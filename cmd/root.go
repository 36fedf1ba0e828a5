package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parnexcodes/droppush/internal/logging"
)

var (
	cfgFile      string
	verbose      bool
	concurrency  int
	outputFormat string

	// appFs is where local files and folders are read from
	appFs = afero.NewOsFs()

	rootCmd = &cobra.Command{
		Use:   "droppush",
		Short: "Push files and folders into a LAN drop portal",
		Long: `Droppush claims a drop portal served on the local network and uploads
files and whole folder trees into it, one file at a time, with conflict
checks before each run and live progress.`,
		SilenceUsage: true,
	}
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().IntVarP(&concurrency, "concurrency", "c", 4, "maximum parallel directory reads while collecting folders")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	// Set default values
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("output", "text")

	// Add subcommands
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("DROPPUSH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Only load config if explicitly specified via --config flag
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
		if verbose {
			logging.Init(verbose, os.Stderr)
			logging.ConfigLoad(viper.ConfigFileUsed(), nil)
		}
		return
	}

	if verbose {
		// Initialize logging to avoid nil pointer when no config file but verbose is set
		logging.Init(verbose, os.Stderr)
		logging.ConfigLoad("CLI flags only", nil)
	}
}
