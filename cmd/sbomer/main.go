package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sbomer/internal/config"
	"sbomer/pkg/client"
	"sbomer/pkg/utils"
)

var (
	cfgFile   string
	verbose   bool
	tokenPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sbomer",
	Short: "Browse and manage SBOM manifests",
	Long: `sbomer talks to a sbomer-api server. It lists, filters and pages through
stored manifests, downloads their BOM documents and uploads new ones.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.sbomer/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&tokenPath, "token-file", defaultTokenPath(), "Where login stores the bearer token")
	rootCmd.PersistentFlags().String("api", config.DefaultBaseURL, "API base URL")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for write commands")
	rootCmd.PersistentFlags().Duration("timeout", config.DefaultClientTimeout, "Request timeout")
	rootCmd.PersistentFlags().Int("retries", 0, "Retries for transient failures")

	_ = viper.BindPFlag("client.base_url", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("client.token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("client.timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("client.max_retries", rootCmd.PersistentFlags().Lookup("retries"))

	rootCmd.AddCommand(manifestsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

type env struct {
	cfg    *config.Config
	log    *utils.Logger
	client *client.Client
}

func newEnv() (*env, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := utils.NewLogger(utils.LoggerOptions{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: verbose,
	})

	token := cfg.Client.Token
	if token == "" {
		// a missing token file only matters to write commands, which the
		// server rejects with 401
		token, _ = readToken(tokenPath)
	}

	retry := client.DefaultRetryOptions()
	retry.MaxRetries = cfg.Client.MaxRetries

	c, err := client.New(client.Config{
		BaseURL: cfg.Client.BaseURL,
		Token:   token,
		Timeout: cfg.Client.Timeout,
		Retry:   retry,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, log: log, client: c}, nil
}
