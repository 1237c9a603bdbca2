package metrics

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/tj/assert"
	"golang.org/x/exp/slog"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatch(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	now := time.Unix(1000, 0)

	t.Run("count", func(t *testing.T) {
		client := &fakeCloudWatch{}
		m := New(log, client, "wsrelay", "relay")
		m.Now = func() time.Time { return now }

		m.Count(context.Background(), Connected)
		assert.Len(t, client.inputs, 1)
		assert.Equal(t, "wsrelay", *client.inputs[0].Namespace)
		datum := client.inputs[0].MetricData[0]
		assert.Equal(t, "Connected", *datum.MetricName)
		assert.Equal(t, types.StandardUnitCount, datum.Unit)
		assert.Equal(t, 1.0, *datum.Value)
		assert.Equal(t, now, *datum.Timestamp)
		assert.Equal(t, "relay", *datum.Dimensions[0].Value)
	})

	t.Run("bytes", func(t *testing.T) {
		client := &fakeCloudWatch{}
		m := New(log, client, "wsrelay", "relay")

		m.Bytes(context.Background(), UploadedBytes, 5)
		datum := client.inputs[0].MetricData[0]
		assert.Equal(t, types.StandardUnitBytes, datum.Unit)
		assert.Equal(t, 5.0, *datum.Value)
	})

	t.Run("errors are not returned", func(t *testing.T) {
		client := &fakeCloudWatch{err: errors.New("throttled")}
		m := New(log, client, "wsrelay", "relay")

		m.Count(context.Background(), UploadFailed)
		assert.Len(t, client.inputs, 1)
	})
}
