package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	acme "github.com/caasmo/restinpieces-http01"
	acme_db "github.com/caasmo/restinpieces-http01/zombiezen"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print each configured host's lifecycle state and certificate expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}

		store := acme.NewStorage(cfg.DataDir)
		registry, err := acme.LoadRegistry(store, cfg.Hosts)
		if err != nil {
			logger.Error("Failed to load host registry", "error", err)
			return err
		}

		var history *acme_db.Db
		if cfg.HistoryDB != "" {
			history, err = acme_db.Open(cfg.HistoryDB)
			if err != nil {
				logger.Warn("History database unavailable", "path", cfg.HistoryDB, "error", err)
			} else {
				defer history.Close()
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HOST\tSTATE\tEXPIRES\tLAST ORDER")
		for _, host := range registry.Hosts() {
			expires := "-"
			meta, err := store.ReadCertificateMeta(host)
			if err != nil {
				logger.Warn("Could not read certificate metadata", "host", host, "error", err)
			} else if meta != nil && !meta.ExpiresAt.IsZero() {
				expires = meta.ExpiresAt.Format(time.RFC3339)
			}

			lastOrder := "-"
			if history != nil {
				rec, err := history.Latest(host)
				switch {
				case err == nil:
					lastOrder = rec.OrderURL
				case !errors.Is(err, acme_db.ErrNotFound):
					logger.Warn("Could not read certificate history", "host", host, "error", err)
				}
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", host, registry.State(host), expires, lastOrder)
		}
		return w.Flush()
	},
}
