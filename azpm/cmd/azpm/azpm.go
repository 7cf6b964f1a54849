package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ezquant/azpm/azpm"
	"github.com/ezquant/azpm/azpm/nn"
	"github.com/ezquant/azpm/azpm/plus/localkv"
	"github.com/ezquant/azpm/azpm/plus/models"
	"github.com/ezquant/azpm/azpm/portfolio"
	"github.com/ezquant/azpm/azpm/tools/log"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "eg. ./user_data/config.yml",
		Required: true,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "azpm",
		HelpName: "azpm",
		Usage:    "Portfolio management agent training",
		Commands: []*cli.Command{
			{
				Name:     "prepare",
				HelpName: "prepare",
				Usage:    "Load the candle files and cache the aligned prices",
				Flags:    []cli.Flag{configFlag()},
				Action: func(c *cli.Context) error {
					config, kv, err := setup(c)
					if err != nil {
						return err
					}
					defer kv.Close()

					store, err := portfolio.FromCSV(feeds(config)...)
					if err != nil {
						return err
					}
					if err := store.Save(kv); err != nil {
						return err
					}
					log.Infof("cached %d periods of %s", store.NSamples(), strings.Join(store.Assets(), ", "))
					return nil
				},
			},
			{
				Name:     "train",
				HelpName: "train",
				Usage:    "Train the agent and store a checkpoint",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:    "checkpoint",
						Aliases: []string{"k"},
						Usage:   "checkpoint name",
						Value:   "latest",
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "start from the stored checkpoint",
						Value: false,
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "show a progress bar per epoch",
						Value: true,
					},
				},
				Action: func(c *cli.Context) error {
					config, kv, err := setup(c)
					if err != nil {
						return err
					}
					defer kv.Close()

					p, err := loadPortfolio(config, kv)
					if err != nil {
						return err
					}

					options := []azpm.Option{
						azpm.WithProgressBar(c.Bool("progress")),
						azpm.WithReplayCapacity(config.Training.ReplayCapacity),
					}
					if config.Training.Seed != nil {
						options = append(options, azpm.WithSeed(*config.Training.Seed))
					}

					agent, err := azpm.NewAgent(p, settings(config.Training), options...)
					if err != nil {
						return err
					}
					if c.Bool("resume") {
						if err := agent.LoadCheckpoint(kv, c.String("checkpoint")); err != nil {
							return err
						}
					}

					if err := agent.Train(c.Context); err != nil {
						return err
					}
					if err := agent.Summary(os.Stdout); err != nil {
						return err
					}
					return agent.SaveCheckpoint(kv, c.String("checkpoint"))
				},
			},
			{
				Name:     "inspect",
				HelpName: "inspect",
				Usage:    "Print the asset universe and stored checkpoints",
				Flags:    []cli.Flag{configFlag()},
				Action: func(c *cli.Context) error {
					config, kv, err := setup(c)
					if err != nil {
						return err
					}
					defer kv.Close()

					p, err := loadPortfolio(config, kv)
					if err != nil {
						return err
					}
					fmt.Println(p)
					fmt.Printf("periods: %d, commission rate: %v\n", p.NSamples(), p.CommissionRate())

					keys, err := kv.Keys(azpm.CheckpointKey("*"))
					if err != nil {
						return err
					}
					for _, key := range keys {
						var checkpoint azpm.Checkpoint
						if err := kv.GetObject(key, &checkpoint); err != nil {
							return err
						}
						fmt.Printf("%s: %d epochs over [%s]\n", key, checkpoint.Epochs, strings.Join(checkpoint.Assets, ", "))
					}
					return nil
				},
			},
		},
	}
}

func setup(c *cli.Context) (*models.Config, *localkv.LocalKV, error) {
	config, err := models.ReadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config file: %w", err)
	}

	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(level)

	kv, err := localkv.NewLocalKV(&config.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return config, kv, nil
}

func feeds(config *models.Config) []portfolio.AssetFeed {
	return lo.Map(config.Data, func(file models.AssetFile, _ int) portfolio.AssetFeed {
		return portfolio.AssetFeed{Asset: file.Asset, File: file.File}
	})
}

// loadPortfolio prefers the cached prices written by prepare and falls back to the CSV files.
func loadPortfolio(config *models.Config, kv *localkv.LocalKV) (*portfolio.Portfolio, error) {
	store, err := portfolio.LoadPriceStore(kv)
	if errors.Is(err, localkv.ErrNotFound) {
		log.Info("no cached prices, reading candle files")
		store, err = portfolio.FromCSV(feeds(config)...)
	}
	if err != nil {
		return nil, err
	}

	return portfolio.New(store, config.Assets,
		portfolio.WithCash(config.Cash),
		portfolio.WithCommissionRate(config.Training.CommissionRate),
	)
}

func settings(t models.Training) azpm.Settings {
	return azpm.Settings{
		BatchSize:    t.BatchSize,
		SampleSize:   t.SampleSize,
		WindowSize:   t.WindowSize,
		StepSize:     t.StepSize,
		Epochs:       t.Epochs,
		LearningRate: t.LearningRate,
		Beta1:        t.Beta1,
		Beta2:        t.Beta2,
		Gamma:        t.Gamma,
		Tau:          t.Tau,
		Hidden:       t.HiddenSize,
		Dropout:      t.Dropout,
		Device:       nn.Device(t.Device),
	}
}
