package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"backoffice/api/internal/email"
	"backoffice/api/internal/metrics"
	"backoffice/api/internal/session"
	"backoffice/api/internal/store"
)

var dryRun bool

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Run one complaint escalation pass",
	Long: `escalate sends the reminders and escalations that are due, the same pass the
cron endpoint and the in-process ticker run. With --dry-run it only prints
what would be sent.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		var redisStore *session.RedisStore
		if strings.TrimSpace(rt.cfg.RedisURL) != "" {
			if redisStore, err = session.NewRedisStore(rt.cfg.RedisURL); err != nil {
				return err
			}
			defer redisStore.Close()
		}
		var m *metrics.Metrics
		mail := email.NewService(email.Config{
			Host:     rt.cfg.SMTP.Host,
			Port:     rt.cfg.SMTP.Port,
			Username: rt.cfg.SMTP.Username,
			Password: rt.cfg.SMTP.Password,
			From:     rt.cfg.SMTP.From,
			FromName: rt.cfg.SMTP.FromName,
		}, rt.logger, m)
		runner, err := newRunner(rt.cfg, store.NewPostgresStore(rt.db), mail, redisStore, rt.logger, m, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		table := tablewriter.NewWriter(out)
		if dryRun {
			actions, scanned, err := runner.Preview(ctx)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintf(out, "Nothing due (%d complaints scanned)\n", scanned)
				return nil
			}
			table.Header("Reference", "Tier", "Level", "Age", "Also stamps")
			for _, action := range actions {
				table.Append(
					action.Reference,
					string(action.Tier.Name),
					strconv.Itoa(action.Tier.Level),
					action.Age.Truncate(time.Minute).String(),
					strings.Join(action.Supersede, ", "),
				)
			}
			table.Render()
			fmt.Fprintf(out, "\n%d due of %d scanned (dry run, nothing sent)\n", len(actions), scanned)
			return nil
		}

		report, err := runner.Run(ctx, "cli")
		if err != nil {
			return err
		}
		if len(report.Actions) > 0 {
			table.Header("Reference", "Tier", "Outcome", "Error")
			for _, result := range report.Actions {
				table.Append(result.Reference, string(result.Tier), result.Outcome, result.Error)
			}
			table.Render()
		}
		fmt.Fprintf(out, "\nscanned %d, sent %d, skipped %d, failed %d\n", report.Scanned, report.Sent, report.Skipped, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%d escalation(s) failed", report.Failed)
		}
		return nil
	},
}

func init() {
	escalateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what is due without sending or stamping")
}
