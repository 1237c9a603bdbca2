package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"golang.org/x/exp/slog"
)

type Name string

const (
	Connected              Name = "Connected"
	Disconnected           Name = "Disconnected"
	MessageEchoed          Name = "MessageEchoed"
	UploadSucceeded        Name = "UploadSucceeded"
	UploadFailed           Name = "UploadFailed"
	UploadedBytes          Name = "UploadedBytes"
	StaleConnectionRemoved Name = "StaleConnectionRemoved"
)

// PutMetricDataAPI is the subset of the CloudWatch client used to publish metrics.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

func New(log *slog.Logger, client PutMetricDataAPI, namespace, service string) CloudWatch {
	return CloudWatch{
		Log:       log,
		Client:    client,
		Namespace: namespace,
		Service:   service,
		Now:       time.Now,
	}
}

// CloudWatch publishes each metric as a single datum. Publishing failures are
// logged and otherwise ignored.
type CloudWatch struct {
	Log       *slog.Logger
	Client    PutMetricDataAPI
	Namespace string
	Service   string
	Now       func() time.Time
}

func (m CloudWatch) Count(ctx context.Context, name Name) {
	m.put(ctx, name, 1, types.StandardUnitCount)
}

func (m CloudWatch) Bytes(ctx context.Context, name Name, n int) {
	m.put(ctx, name, float64(n), types.StandardUnitBytes)
}

func (m CloudWatch) put(ctx context.Context, name Name, value float64, unit types.StandardUnit) {
	_, err := m.Client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.Namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(string(name)),
				Timestamp:  aws.Time(m.Now()),
				Unit:       unit,
				Value:      aws.Float64(value),
				Dimensions: []types.Dimension{
					{Name: aws.String("Service"), Value: aws.String(m.Service)},
				},
			},
		},
	})
	if err != nil {
		m.Log.Warn("Failed to publish metric", slog.String("metric", string(name)), slog.Any("error", err))
	}
}

// Noop discards metrics. It's used when running locally.
type Noop struct{}

func (Noop) Count(ctx context.Context, name Name)        {}
func (Noop) Bytes(ctx context.Context, name Name, n int) {}
