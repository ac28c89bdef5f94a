package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trogers1052/fund-share-service/internal/api"
	"github.com/trogers1052/fund-share-service/internal/config"
	"github.com/trogers1052/fund-share-service/internal/kafka"
	"github.com/trogers1052/fund-share-service/internal/report"
)

const dateLayout = "2006-01-02"

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API, the NAV refresh scheduler and the transaction consumer",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c, "")
			if err != nil {
				return err
			}
			defer a.Close()

			a.scheduler.Start(ctx)

			var consumerDone chan struct{}
			if a.cfg.Kafka.Enabled() {
				consumer := kafka.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.TransactionsTopic, a.cfg.Kafka.GroupID,
					a.portfolio, a.logger.Component("kafka"))
				consumerDone = make(chan struct{})
				go func() {
					defer close(consumerDone)
					if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Error().Err(err).Msg("kafka consumer stopped")
					}
				}()
			} else {
				a.logger.Info().Msg("kafka disabled, transaction consumer and event publishing off")
			}

			handler := api.NewHandler(a.db, a.portfolio, a.scheduler, a.engine, a.loc, a.logger.Component("api"))
			handler.SetReporter(report.NewBuilder(a.db, a.portfolio))
			srv := &http.Server{
				Addr:         a.cfg.Server.Addr(),
				Handler:      api.SetupRoutes(handler),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				a.logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error().Err(err).Msg("HTTP server failed")
					stop()
				}
			}()

			<-ctx.Done()
			a.logger.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error().Err(err).Msg("HTTP server shutdown failed")
			}

			a.scheduler.Stop()
			if consumerDone != nil {
				<-consumerDone
			}
			a.logger.Info().Msg("shutdown complete")
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			logger := newLogger(c, cfg, "console")
			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "run one NAV refresh cycle now, settling profit when any fund updated",
		Action: func(c *cli.Context) error {
			a, err := newApp(c.Context, c, "console")
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.scheduler.RunCycle(c.Context)
			if err != nil {
				return err
			}
			for _, f := range result.Funds {
				if f.Error != "" {
					fmt.Printf("%-8s  failed: %s\n", f.Code, f.Error)
					continue
				}
				fmt.Printf("%-8s  %s  %s  %s\n", f.Code, f.Nav, f.AsOf.Format(dateLayout), f.Source)
			}
			fmt.Printf("%d of %d funds updated in %s\n", result.Updated, len(result.Funds), result.Duration.Round(time.Millisecond))
			if s := result.Settlement; s != nil {
				fmt.Printf("settled %d of %d users, %d failed\n", s.Processed, s.Total, len(s.Failed))
			}
			return nil
		},
	}
}

func settleCommand() *cli.Command {
	return &cli.Command{
		Name:  "settle",
		Usage: "settle daily profit and profit share for every user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "settlement date YYYY-MM-DD (default: today)"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c.Context, c, "console")
			if err != nil {
				return err
			}
			defer a.Close()

			asOf, err := dateFlag(c, "date", a.loc)
			if err != nil {
				return err
			}
			summary, err := a.engine.SettleAll(c.Context, asOf)
			fmt.Printf("settled %d of %d users for %s\n", summary.Processed, summary.Total, summary.Date.Format(dateLayout))
			for id, reason := range summary.Failed {
				fmt.Printf("  user %d failed: %s\n", id, reason)
			}
			return err
		},
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:      "backfill",
		Usage:     "load NAV history for tracked funds",
		ArgsUsage: "CODE...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 30, Usage: "maximum number of history entries per fund"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("backfill needs at least one fund code", 2)
			}
			a, err := newApp(c.Context, c, "console")
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, code := range c.Args().Slice() {
				n, err := a.scheduler.Backfill(c.Context, code, c.Int("days"))
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", code, err))
					continue
				}
				fmt.Printf("%s: %d new entries\n", code, n)
			}
			return errors.Join(errs...)
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "print a settlement report or export it as xlsx",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: report.DefaultDays, Usage: "number of days covered"},
			&cli.IntFlag{Name: "user", Usage: "report a single account by id (default: all sub-accounts)"},
			&cli.StringFlag{Name: "to", Usage: "last day covered YYYY-MM-DD (default: today)"},
			&cli.StringFlag{Name: "xlsx", Usage: "write a workbook to this path instead of printing"},
			&cli.StringFlag{Name: "style", Value: "dark", Usage: "terminal style: dark, light or notty"},
			&cli.IntFlag{Name: "width", Value: 100, Usage: "word wrap width"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c.Context, c, "console")
			if err != nil {
				return err
			}
			defer a.Close()

			to, err := dateFlag(c, "to", a.loc)
			if err != nil {
				return err
			}
			r, err := report.NewBuilder(a.db, a.portfolio).Build(c.Context, to, c.Int("days"), c.Int("user"))
			if err != nil {
				return err
			}

			if path := c.String("xlsx"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				if err := report.WriteXLSX(f, r); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %s (%d accounts)\n", path, len(r.Users))
				return nil
			}

			out, err := report.Render(report.Markdown(r), c.String("style"), c.Int("width"))
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

// dateFlag parses a YYYY-MM-DD flag in loc, defaulting to now
func dateFlag(c *cli.Context, name string, loc *time.Location) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation(dateLayout, v, loc)
	if err != nil {
		return time.Time{}, cli.Exit(fmt.Sprintf("invalid --%s %q, want YYYY-MM-DD", name, v), 2)
	}
	return t, nil
}
