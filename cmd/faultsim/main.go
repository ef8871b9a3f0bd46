package main

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/lukjok/faultsim/campaign"
	"github.com/lukjok/faultsim/config"
	"github.com/lukjok/faultsim/dispatch"
	"github.com/lukjok/faultsim/sim"
	"github.com/lukjok/faultsim/target"
	"github.com/lukjok/faultsim/util"
	"github.com/lukjok/faultsim/worker"
)

func main() {
	app := &cli.App{
		Name:      "faultsim",
		Version:   "0.1",
		Compiled:  time.Now(),
		Usage:     "a fault injection campaign driver for simulated targets",
		UsageText: "faultsim [options]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user-cfg",
				Aliases: []string{"u"},
				Usage:   "Path to the run settings file",
			},
			&cli.StringFlag{
				Name:     "driver-cfg",
				Aliases:  []string{"c"},
				Usage:    "Path to the fault injection campaign file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "driver",
				Aliases: []string{"d"},
				Value:   "FaultInjection",
				Usage:   "Simulation driver to use",
			},
			&cli.StringFlag{
				Name:    "fault-ids",
				Aliases: []string{"f"},
				Usage:   "Comma separated list of fault ids or id ranges to run",
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Value:   1,
				Usage:   "Number of fault injection jobs to run in parallel",
			},
			&cli.BoolFlag{
				Name:  "hard-psr-fault",
				Usage: "With the CorruptRegDef model, fault the full PSR instead of just the condition flags",
			},
			&cli.StringFlag{
				Name:  "reg-fault-value",
				Value: "reset",
				Usage: "With the register fault models: 'reset' the register, set it to 'one' or 'set' all its bits",
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
	if driver := c.String("driver"); driver != "FaultInjection" {
		return cli.Exit("unknown driver requested: "+driver, 1)
	}

	settingsPath := config.Discover(c.String("user-cfg"))
	settings, err := config.ParseSettingsFile(settingsPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	campaignPath := c.String("driver-cfg")
	camp, err := campaign.Load(campaignPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var faultIds []uint64
	if spec := c.String("fault-ids"); len(spec) != 0 {
		if faultIds, err = util.ParseFaultIds(spec); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	model, err := worker.NewFaultModel(camp.FaultModel, worker.ModelOptions{
		HardPSRFault:  c.Bool("hard-psr-fault"),
		RegFaultValue: c.String("reg-fault-value"),
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	dispatcher := dispatch.New(camp, faultIds)
	if c.Bool("verbose") {
		pterm.Printf("%s", camp)
	}
	pterm.Printf("%d faults to inject.\n", dispatcher.NumSelected())
	if !c.Bool("verbose") {
		dispatcher.StartProgress()
	}

	opts := worker.Options{
		Watchdog:   time.Duration(settings.WatchdogSec) * time.Second,
		SpinBudget: settings.SpinBudget,
	}

	jobs := c.Int("jobs")
	if jobs < 1 {
		jobs = 1
	}

	var instances []*sim.Instance
	var sessions []*target.Remote
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		instance, err := sim.Launch(settings, settings.BasePort+i)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		instances = append(instances, instance)
		if err := instance.WaitReady(settings.ControlHost, time.Duration(settings.LaunchTimeoutSec)*time.Second); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		session, err := target.Dial(settings.ControlHost, instance.Port)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		sessions = append(sessions, session)

		logger, err := util.NewWorkerLogger(i)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		w := worker.New(i, session, dispatcher, model, logger, opts)
		wg.Add(1)
		go func(index int, w *worker.Worker, logger *util.Log) {
			defer wg.Done()
			defer logger.Close()
			if err := w.Run(); err != nil {
				// Fatal for this session only; the other workers keep
				// draining the queue.
				logger.LogError(err.Error())
				log.Printf("worker %d aborted: %s", index, err)
			}
		}(i, w, logger)
	}
	wg.Wait()

	for _, session := range sessions {
		session.Close()
	}
	for _, instance := range instances {
		if err := instance.Shutdown(); err != nil {
			log.Printf("failed to shut a simulator down: %s", err)
		}
	}

	result := dispatcher.Finalize()
	pterm.Println(result)

	if err := camp.Save(campaignPath + ".results"); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.Bool("verbose") {
		pterm.Println("Fault injection campaign results:")
		pterm.Printf("%s", camp)
	}
	return nil
}
