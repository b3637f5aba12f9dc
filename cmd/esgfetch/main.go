// Command esgfetch is the operator-facing CLI: run the engine
// in-process against a catalog file with a live progress display, or
// inspect and requeue catalog rows without starting a download.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	app := cli.App{
		Name:      "esgfetch",
		HelpName:  "esgfetch",
		Usage:     "Bulk, authenticated, resumable ESGF file downloader.",
		Version:   version,
		UsageText: "esgfetch <command> [arguments...]",
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "start the download engine against a catalog",
				Action: runCommand,
				Flags:  runFlags,
			},
			{
				Name:   "list",
				Usage:  "list catalog transfers by status",
				Action: listCommand,
				Flags:  listFlags,
			},
			{
				Name:   "requeue",
				Usage:  "reset transfers back to waiting",
				Action: requeueCommand,
				Flags:  requeueFlags,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println("esgfetch:", err.Error())
		os.Exit(1)
	}
}
