package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "fundshare",
		Usage: "fund NAV tracking and profit-sharing settlement",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json (default: json for serve, console otherwise)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			refreshCommand(),
			settleCommand(),
			backfillCommand(),
			reportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fundshare: %v\n", err)
		os.Exit(1)
	}
}
