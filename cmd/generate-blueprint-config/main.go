package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	acme "github.com/caasmo/restinpieces-http01"
)

var (
	outputPath string
	force      bool
)

// blueprint returns the defaults plus placeholder hosts and contact, with the
// optional listeners switched on so they show up in the output.
func blueprint() acme.Config {
	cfg := acme.DefaultConfig()
	cfg.Hosts = []string{"example.com", "www.example.com"}
	cfg.Contact = "hostmaster@example.com"
	cfg.MetricsAddr = "127.0.0.1:9095"
	cfg.HistoryDB = cfg.DataDir + "/history.db"
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "generate-blueprint-config",
	Short: "Write an http01 config with every field set",
	Long: `Writes an http01 config with every field set. Replace hosts and contact,
then pass it to "http01 -c <path> serve".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		if _, err := os.Stat(outputPath); err == nil && !force {
			logger.Error("Refusing to overwrite existing file, pass --force", "path", outputPath)
			return errors.New("output file exists")
		}

		cfg := blueprint()
		if err := cfg.Validate(); err != nil {
			logger.Error("Example config does not validate", "error", err)
			return err
		}

		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode example config: %w", err)
		}
		if err := renameio.WriteFile(outputPath, data, 0o644); err != nil {
			logger.Error("Failed to write example config", "path", outputPath, "error", err)
			return err
		}

		logger.Info("Example config written", "path", outputPath, "directory_url", cfg.DirectoryURL)
		if cfg.DirectoryURL == acme.DefaultDirectoryURL {
			logger.Warn("directory_url points at the staging CA; certificates will not be trusted by browsers")
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "http01.toml.example", "where to write the example config")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
