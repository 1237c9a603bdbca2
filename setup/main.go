// Command setup creates the connections table and uploads bucket. It's intended
// for local development against DynamoDB Local and MinIO, so offline defaults
// to true.
package main

import (
	"context"
	"os"

	"github.com/a-h/wsrelay/blob"
	"github.com/a-h/wsrelay/config"
	"github.com/a-h/wsrelay/db"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	var cfg config.Config
	app := &cli.App{
		Name:  "setup",
		Usage: "create the connections table and uploads bucket",
		Flags: config.Flags(&cfg),
		Before: func(c *cli.Context) error {
			if _, ok := os.LookupEnv(config.OfflineEnv); !ok && !c.IsSet("offline") {
				return c.Set("offline", "true")
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, log, cfg)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("Setup failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config.Config) error {
	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return err
	}

	registry, err := db.NewStore(ctx, cfg.ConnectionsTable, db.WithClient(cfg.DynamoDB(awsCfg)))
	if err != nil {
		return err
	}
	if err = registry.CreateTable(ctx); err != nil {
		return err
	}
	log.Info("Table ready", slog.String("table", cfg.ConnectionsTable))

	objects, err := blob.NewStore(ctx, cfg.Bucket, blob.WithClient(cfg.S3(awsCfg)))
	if err != nil {
		return err
	}
	if err = objects.CreateBucket(ctx); err != nil {
		return err
	}
	log.Info("Bucket ready", slog.String("bucket", cfg.Bucket))
	return nil
}
