package main

import (
	"context"
	"os"

	"github.com/a-h/wsrelay/blob"
	"github.com/a-h/wsrelay/config"
	"github.com/a-h/wsrelay/connection"
	"github.com/a-h/wsrelay/db"
	"github.com/a-h/wsrelay/metrics"
	"github.com/a-h/wsrelay/push"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	var cfg config.Config
	app := &cli.App{
		Name:  "relay",
		Usage: "WebSocket relay Lambda function",
		Flags: config.Flags(&cfg),
		Action: func(c *cli.Context) error {
			h, err := NewHandler(c.Context, log, cfg)
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("Failed to start", slog.Any("error", err))
		os.Exit(1)
	}
}

func NewHandler(ctx context.Context, log *slog.Logger, cfg config.Config) (h connection.Handler, err error) {
	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return
	}
	registry, err := db.NewStore(ctx, cfg.ConnectionsTable, db.WithClient(cfg.DynamoDB(awsCfg)))
	if err != nil {
		return
	}
	objects, err := blob.NewStore(ctx, cfg.Bucket, blob.WithClient(cfg.S3(awsCfg)))
	if err != nil {
		return
	}
	channel := push.NewChannel(log, push.NewClientFactory(awsCfg), cfg.Offline)
	var m connection.Metrics = metrics.Noop{}
	if cfg.MetricsEnabled() {
		m = metrics.New(log, cfg.CloudWatch(awsCfg), cfg.MetricsNamespace, "relay")
	}
	log.Info("Starting relay",
		slog.String("connectionsTable", cfg.ConnectionsTable),
		slog.String("bucket", cfg.Bucket),
		slog.Bool("offline", cfg.Offline))
	h = connection.NewHandler(log, registry, objects, channel, cfg.PushEndpointFor, m)
	return
}
