package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"coursewatch/internal/config"
	"coursewatch/internal/domain"
	"coursewatch/internal/export"
	"coursewatch/internal/notify"
	"coursewatch/internal/providers/enroll"
	"coursewatch/internal/server"
	"coursewatch/internal/sftpclient"
	"coursewatch/internal/store"
	"coursewatch/internal/watch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "coursewatch",
		Short:         "Course seat availability watcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default coursewatch.yaml if present)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newTasksCmd(&configPath))
	root.AddCommand(newHistoryCmd(&configPath))
	return root
}

type app struct {
	cfg    config.Config
	store  *store.Store
	client *enroll.Client
	logger *slog.Logger
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		store:  st,
		client: enroll.New(cfg.Provider.BaseURL, cfg.Provider.TermID, cfg.Provider.SubjectID, cfg.Provider.UserAgent),
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}, nil
}

func (a *app) Close() { _ = a.store.Close() }

func (a *app) notifier() notify.Notifier {
	if a.cfg.Mail.Enabled() {
		return notify.NewMailNotifier(notify.MailConfig{
			Host:     a.cfg.Mail.Host,
			Port:     a.cfg.Mail.Port,
			Username: a.cfg.Mail.Username,
			Password: a.cfg.Mail.Password,
			From:     a.cfg.Mail.From,
			To:       a.cfg.Mail.To,
		}, a.logger)
	}
	a.logger.Warn("smtp not configured, alerts go to the log only")
	return &notify.LogNotifier{Logger: a.logger}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the management API",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reconciler := &watch.Reconciler{
				Store:    a.store,
				Notifier: a.notifier(),
				History:  a.store,
				Logger:   a.logger,
			}
			scheduler := &watch.Scheduler{
				Store:      a.store,
				Source:     a.client,
				Reconciler: reconciler,
				Logger:     a.logger,
				Interval:   a.cfg.Poll.Interval.Std(),
				PaceBase:   a.cfg.Poll.PaceBase.Std(),
				PaceJitter: a.cfg.Poll.PaceJitter.Std(),
			}
			srv := server.New(a.store, a.client, a.cfg.Server.Addr, a.logger)
			if err := srv.Start(ctx); err != nil {
				return err
			}

			err = scheduler.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newTasksCmd(configPath *string) *cobra.Command {
	tasks := &cobra.Command{Use: "tasks", Short: "Manage watched sections"}

	tasks.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List watched sections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sections, err := a.store.FindAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(sections) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no watched sections")
				return nil
			}
			for _, ws := range sections {
				status := "-"
				if ws.LastStatus != nil {
					status = string(*ws.LastStatus)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tenabled=%t\tlast=%s\n", ws.SectionID, ws.CourseID, ws.DisplayName, ws.Enabled, status)
			}
			return nil
		},
	})

	tasks.AddCommand(&cobra.Command{
		Use:   "add <course name>",
		Short: "Search a course and watch all its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			match, err := a.client.SearchCourse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, sectionID := range match.SectionIDs {
				existing, err := a.store.FindBySectionID(cmd.Context(), sectionID)
				if err != nil {
					return err
				}
				if existing != nil {
					continue
				}
				ws := domain.WatchedSection{
					SectionID:   sectionID,
					CourseID:    match.CourseID,
					DisplayName: match.Designation,
				}
				if err := a.store.Upsert(cmd.Context(), ws); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "watching %s (%s): %d sections, all disabled until toggled\n", match.Designation, match.CourseID, len(match.SectionIDs))
			return nil
		},
	})

	tasks.AddCommand(&cobra.Command{
		Use:   "toggle <section id>",
		Short: "Flip a section's enabled flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			enabled, err := a.store.ToggleEnabled(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "section %s enabled=%t\n", args[0], enabled)
			return nil
		},
	})

	tasks.AddCommand(&cobra.Command{
		Use:   "delete <course display name>",
		Short: "Remove every section watched under a display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.DeleteByDisplayName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sections\n", n)
			return nil
		},
	})

	return tasks
}

func newHistoryCmd(configPath *string) *cobra.Command {
	history := &cobra.Command{Use: "history", Short: "Observation history"}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print recent observations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s %s\t%s\t%s\n", r.ObservedAt.Format(time.RFC3339), r.Subject, r.CatalogNumber, r.SectionID, r.Status)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "max rows to print, 0 for all")
	history.AddCommand(listCmd)

	var outPath string
	var toSFTP bool
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the full history as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.ListHistory(cmd.Context(), 0)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := export.WriteHistoryCSV(&buf, rows); err != nil {
				return err
			}

			if toSFTP {
				name := fmt.Sprintf("coursewatch-history-%s.csv", time.Now().UTC().Format("20060102-150405"))
				err := sftpclient.Upload(cmd.Context(), sftpclient.Config{
					Host:      a.cfg.SFTP.Host,
					Port:      a.cfg.SFTP.Port,
					User:      a.cfg.SFTP.User,
					Pass:      a.cfg.SFTP.Pass,
					RemoteDir: a.cfg.SFTP.RemoteDir,
				}, name, bytes.NewReader(buf.Bytes()))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d rows)\n", name, len(rows))
				return nil
			}

			if outPath == "" || outPath == "-" {
				_, _ = cmd.OutOrStdout().Write(buf.Bytes())
				return nil
			}
			if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows)\n", outPath, len(rows))
			return nil
		},
	}
	exportCmd.Flags().StringVar(&outPath, "out", "", "output file, - or empty for stdout")
	exportCmd.Flags().BoolVar(&toSFTP, "sftp", false, "upload to the configured SFTP archive instead of writing locally")
	history.AddCommand(exportCmd)

	return history
}
