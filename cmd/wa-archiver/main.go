package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "wa-archiver",
		Usage:   "WeCom chat archive sync and media archival",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default ./configs/config.yaml or $CONFIG_PATH)",
			},
		},
		Before: prepareApp,
		After:  cleanupApp,
		Commands: []*cli.Command{
			serveCommand,
			syncCommand,
			migrateCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
