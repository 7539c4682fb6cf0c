package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sbomer/internal/auth"
	"sbomer/internal/config"
	"sbomer/pkg/utils"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sbomer-api",
	Short: "Serve the manifests API",
	Long: `sbomer-api stores SBOM manifests in SQLite and serves them over a
paginated HTTP API, with a websocket feed of manifest changes on /ws.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token allowed to create and delete manifests",
	RunE:  runToken,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.sbomer/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "Log format (pretty or json)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default is ~/.sbomer/sbomer.db)")

	serveCmd.Flags().String("addr", config.DefaultServerAddr, "Listen address")
	serveCmd.Flags().Bool("no-rate-limit", false, "Disable per-client rate limiting")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	tokenCmd.Flags().String("subject", "", "Token subject (required)")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default from auth.jwt_ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")

	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig also returns the logger built from the logging section.
func loadConfig() (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := utils.NewLogger(utils.LoggerOptions{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: verbose,
	})
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if off, _ := cmd.Flags().GetBool("no-rate-limit"); off {
		cfg.RateLimit.Enabled = false
	}
	return serve(cmd.Context(), cfg, log)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	subject, _ := cmd.Flags().GetString("subject")
	ttl := cfg.Auth.JWTTTL
	if d, _ := cmd.Flags().GetDuration("ttl"); d > 0 {
		ttl = d
	}

	tokens := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: ttl,
	}
	token, expires, err := tokens.Sign(subject)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
