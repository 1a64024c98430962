package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	acme "github.com/caasmo/restinpieces-http01"
)

// issueCmd runs one issuance in the foreground. The challenges must still be
// reachable, so a separate `serve` (or another responder reading the same
// data dir) has to be answering on port 80.
var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Run one issuance in the foreground and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		driver, cleanup, err := newDriver(cfg, acme.NewMetrics(), logger)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := driver.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("Issuance run finished", "outcome", report.Outcome, "hosts", report.Hosts, "order_url", report.OrderURL)
		for _, cert := range report.Certificates {
			logger.Info("Inspect with:", "command", "openssl x509 -in "+cfg.DataDir+"/certificates/"+cert.Host+"/cert.pem -text -noout")
		}
		return nil
	},
}
