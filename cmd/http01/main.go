package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	acme "github.com/caasmo/restinpieces-http01"
	acme_db "github.com/caasmo/restinpieces-http01/zombiezen"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "http01",
	Short: "Issue TLS certificates for proxied hosts over ACME HTTP-01",
	Long: `http01 obtains one multi-domain certificate for every configured host that
has not been processed yet, serving the HTTP-01 challenges itself on the
plaintext listener and redirecting all other plaintext traffic to HTTPS.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "http01.toml", "path to config TOML file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with HTTP01_* overrides")

	rootCmd.AddCommand(serveCmd, issueCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(logger *slog.Logger) (*acme.Config, error) {
	logger.Info("Loading configuration...", "path", configPath)
	cfg, err := acme.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", configPath, "error", err)
		return nil, err
	}
	logger.Info("Config loaded",
		"hosts", cfg.Hosts,
		"contact", cfg.Contact,
		"directory_url", cfg.DirectoryURL,
		"data_dir", cfg.DataDir,
		"history_db", cfg.HistoryDB != "",
	)
	return cfg, nil
}

// newDriver wires the driver and returns a cleanup for the history database.
func newDriver(cfg *acme.Config, metrics *acme.Metrics, logger *slog.Logger) (*acme.Driver, func(), error) {
	opts := []acme.Option{acme.WithMetrics(metrics)}
	cleanup := func() {}

	if cfg.HistoryDB != "" {
		logger.Info("Opening issuance history database", "path", cfg.HistoryDB)
		db, err := acme_db.Open(cfg.HistoryDB)
		if err != nil {
			logger.Error("Failed to open history database", "path", cfg.HistoryDB, "error", err)
			return nil, nil, err
		}
		opts = append(opts, acme.WithHistory(db))
		cleanup = func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close history database", "error", err)
			}
		}
	}

	store := acme.NewStorage(cfg.DataDir)
	driver := acme.NewDriver(cfg, store, acme.NewLegoConnector(cfg.UserAgent), logger, opts...)
	return driver, cleanup, nil
}
