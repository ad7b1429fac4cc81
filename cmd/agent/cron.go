package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
	"chasingclaw/internal/infra/logger"
	"chasingclaw/internal/usecase/cronjob"
)

func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
		Long: `Manage the jobs the scheduler fires while "serve" is running.

Examples:
  chasingclaw cron add --every 3600 -m "Check the build status"
  chasingclaw cron add --cron "0 9 * * 1-5" --tz Europe/Paris -m "Daily briefing"
  chasingclaw cron add --at 2030-01-01T09:00 -m "Happy new year"
  chasingclaw cron list --all
  chasingclaw cron disable <id>
  chasingclaw cron run <id> --force`,
	}
	cmd.AddCommand(
		newCronListCmd(),
		newCronAddCmd(),
		newCronToggleCmd("enable", true),
		newCronToggleCmd("disable", false),
		newCronRemoveCmd(),
		newCronRunCmd(),
	)
	return cmd
}

// withCron opens the job store without the agent. Running a job needs the
// full runtime; see newCronRunCmd.
func withCron(cmd *cobra.Command, fn func(ctx context.Context, svc *cronjob.Service, cfg *config.Config) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	ctx := cmd.Context()
	svc, closeStore, err := initCron(ctx, cfg.Cron, log)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, svc, cfg)
}

func newCronListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCron(cmd, func(_ context.Context, svc *cronjob.Service, cfg *config.Config) error {
				loc, err := cronLocation(cfg.Cron)
				if err != nil {
					return err
				}
				printJobs(cmd.OutOrStdout(), svc.ListJobs(all), loc)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include disabled jobs")
	return cmd
}

func newCronAddCmd() *cobra.Command {
	var (
		name, message, expr, tz, at, channel, chatID string
		every                                        int64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCron(cmd, func(ctx context.Context, svc *cronjob.Service, cfg *config.Config) error {
				loc, err := cronLocation(cfg.Cron)
				if err != nil {
					return err
				}
				sched, err := scheduleFromFlags(every, expr, tz, at, loc)
				if err != nil {
					return err
				}
				job, err := svc.AddJob(ctx, cronjob.AddJobRequest{
					Name:     name,
					Schedule: sched,
					Message:  message,
					Channel:  channel,
					ChatID:   chatID,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added job %q (%s), next run %s\n",
					job.Name, job.ID, formatMs(job.State.NextRunAtMs, loc))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&name, "name", "n", "", "job name (defaults to the message)")
	f.StringVarP(&message, "message", "m", "", "message sent to the agent when the job fires")
	f.Int64VarP(&every, "every", "e", 0, "run every N seconds")
	f.StringVar(&expr, "cron", "", "five-field cron expression")
	f.StringVar(&tz, "tz", "", "IANA time zone for --cron")
	f.StringVar(&at, "at", "", "run once at this date-time (RFC 3339 or 2006-01-02T15:04)")
	f.StringVar(&channel, "channel", "", "deliver the reply to this channel")
	f.StringVar(&chatID, "to", "", "chat id on the delivery channel")
	_ = cmd.MarkFlagRequired("message")
	cmd.MarkFlagsMutuallyExclusive("every", "cron", "at")
	cmd.MarkFlagsOneRequired("every", "cron", "at")
	return cmd
}

// scheduleFromFlags builds a schedule from exactly one of every, expr or at.
func scheduleFromFlags(every int64, expr, tz, at string, loc *time.Location) (domain.CronSchedule, error) {
	var s domain.CronSchedule
	switch {
	case every != 0:
		s = domain.CronSchedule{Kind: domain.ScheduleEvery, EveryMs: every * 1000}
	case expr != "":
		s = domain.CronSchedule{Kind: domain.ScheduleCron, Expr: expr, TZ: tz}
	case at != "":
		t, err := parseAt(at, loc)
		if err != nil {
			return s, err
		}
		s = domain.CronSchedule{Kind: domain.ScheduleAt, AtMs: t.UnixMilli()}
	default:
		return s, domain.NewDomainError("cron add", domain.ErrInvalidSchedule, "one of --every, --cron or --at is required")
	}
	return s, cronjob.ValidateSchedule(s)
}

func parseAt(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, domain.NewDomainError("cron add", domain.ErrInvalidSchedule, fmt.Sprintf("invalid --at %q", s))
}

func newCronToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCron(cmd, func(ctx context.Context, svc *cronjob.Service, _ *config.Config) error {
				job, err := svc.EnableJob(ctx, args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %sd\n", job.ID, use)
				return nil
			})
		},
	}
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCron(cmd, func(ctx context.Context, svc *cronjob.Service, _ *config.Config) error {
				if _, err := svc.RemoveJob(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
				return nil
			})
		},
	}
}

func newCronRunCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, shutdown, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer shutdown()
			if rt.Cron == nil {
				return fmt.Errorf("cron is disabled (cron.enabled: false)")
			}

			ran, err := rt.Cron.RunJob(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if !ran {
				return fmt.Errorf("job %s was not run (disabled or already running; use --force)", args[0])
			}
			job, err := rt.Cron.GetJob(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s ran: %s", job.ID, job.State.LastStatus)
			if job.State.LastError != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", job.State.LastError)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "run even when the job is disabled")
	return cmd
}

func printJobs(w io.Writer, jobs []domain.CronJob, loc *time.Location) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No scheduled jobs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			j.ID, j.Name, describeSchedule(j.Schedule, loc), j.Enabled,
			formatMs(j.State.NextRunAtMs, loc), j.State.LastStatus)
	}
	tw.Flush()
}

func describeSchedule(s domain.CronSchedule, loc *time.Location) string {
	switch s.Kind {
	case domain.ScheduleEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case domain.ScheduleCron:
		if s.TZ != "" {
			return s.Expr + " (" + s.TZ + ")"
		}
		return s.Expr
	case domain.ScheduleAt:
		return "at " + formatMs(s.AtMs, loc)
	default:
		return string(s.Kind)
	}
}

func formatMs(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).In(loc).Format("2006-01-02 15:04")
}
