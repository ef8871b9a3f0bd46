package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lukjok/faultsim/campaign"
)

func main() {
	app := &cli.App{
		Name:      "campaign",
		Version:   "0.1",
		Compiled:  time.Now(),
		Usage:     "a tool to manipulate fault injection campaign files",
		UsageText: "campaign [options] CAMPAIGN_FILE...",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "offset-fault-time-by",
				Usage: "Offset all fault times by `OFFSET`",
			},
			&cli.StringFlag{
				Name:  "offset-fault-address-by",
				Usage: "Offset all fault addresses by `OFFSET` (decimal or hex)",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Display a summary of the campaign results",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Perform the action, but dump the campaign for inspection instead of saving it",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Be more verbose",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("no campaign files to process", 1)
	}

	var addressOffset int64
	if spec := c.String("offset-fault-address-by"); len(spec) != 0 {
		var err error
		if addressOffset, err = strconv.ParseInt(spec, 0, 64); err != nil {
			return cli.Exit(fmt.Sprintf("bad address offset '%s'", spec), 1)
		}
	}

	failed := 0
	for _, path := range c.Args().Slice() {
		if c.Bool("verbose") {
			fmt.Printf("Opening '%s'\n", path)
		}
		camp, err := campaign.Load(path)
		if err != nil {
			log.Printf("Failed to process '%s': %s", path, err)
			failed++
			continue
		}

		if offset := c.Int64("offset-fault-time-by"); offset != 0 {
			camp.OffsetAllFaultsTimeBy(offset)
		}
		if addressOffset != 0 {
			camp.OffsetAllFaultsAddressBy(addressOffset)
		}
		if c.Bool("summary") {
			fmt.Println(camp.Summary())
		}

		if c.Bool("dry-run") {
			fmt.Print(camp)
		} else if err := camp.Save(path); err != nil {
			log.Printf("Failed to save '%s': %s", path, err)
			failed++
		}
	}

	if failed > 0 {
		// The exit code tells how many files could not be processed.
		return cli.Exit("", failed)
	}
	return nil
}
