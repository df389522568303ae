package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is set at build time with -ldflags
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
	dbPath  string
)

// v uses "::" as key delimiter: alias keys such as "§164.514" contain dots
var v = viper.NewWithOptions(viper.KeyDelimiter("::"))

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dtprivacy",
	Short: "dtprivacy - decision-tree feature × privacy-regulation evidence corpus",
	Long: `dtprivacy builds an evidence corpus linking the features used to train
decision-tree models in published research to the privacy regulations that
govern them.

Records harvested from Crossref and OpenAlex are deduplicated by DOI, then
classified stage by stage (relevance, domain, feature extraction, feature
validation, attribute class, regulation) by an LLM oracle. Every verdict is
persisted, so an interrupted run resumes where it stopped.

The default analytic corpus keeps only Regulated judgments of High confidence.
Everything else stays auditable through 'dtprivacy report'.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of dtprivacy.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dtprivacy %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.dtprivacy/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides store.path)")

	// Bind flags to viper
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("store::path", rootCmd.PersistentFlags().Lookup("db"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	setDefaults(v, model.DefaultConfig())

	if cfgFile != "" {
		// Use config file from the flag
		v.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		v.AddConfigPath(home + "/.dtprivacy")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	// Read in environment variables that match DTPRIVACY_* (DTPRIVACY_ORACLE_API_KEY -> oracle.api_key)
	v.SetEnvPrefix("DTPRIVACY")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	// If a config file is found, read it in
	if err := v.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}
}

// setDefaults registers every section of cfg so that env overrides reach nested keys
func setDefaults(v *viper.Viper, cfg model.Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var sections map[string]any
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return
	}
	for k, val := range sections {
		v.SetDefault(k, val)
	}
}

// loadConfig merges defaults, the config file, env vars and flags
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// newLogger writes structured logs to stderr; warnings only unless --verbose
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openPipeline loads the configuration and opens the pipeline over its store
func openPipeline(opts pipeline.Options) (*pipeline.Pipeline, model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if opts.Logger == nil {
		opts.Logger = newLogger()
	}
	slog.SetDefault(opts.Logger)

	p, err := pipeline.New(cfg, opts)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

// progressPrinter renders "stage done/total" on one stderr line per stage
func progressPrinter() func(stage string, done, total int) {
	var mu sync.Mutex
	return func(stage string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(os.Stderr, "\r  %-10s %d/%d", stage, done, total)
		if done >= total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// signalContext is cancelled on interrupt; finished work is persisted before exit
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
