// Package config resolves the relay's settings from flags and environment
// variables, and builds the AWS clients for either AWS or a local stack of
// DynamoDB Local, MinIO and a gateway emulator.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/urfave/cli/v2"
)

const (
	localDynamoDBEndpoint = "http://localhost:8000"
	localS3Endpoint       = "http://localhost:9000"
	localPushEndpoint     = "http://localhost:3001"
	localDynamoDBRegion   = "localhost"
	localS3Region         = "us-east-1"
)

// OfflineEnv is set by local runners such as serverless-offline.
const OfflineEnv = "IS_OFFLINE"

// OfflineFromEnv reports whether OfflineEnv is "true" or "1". Any other value,
// including one that isn't a boolean at all, means online.
func OfflineFromEnv() bool {
	v := os.Getenv(OfflineEnv)
	return v == "true" || v == "1"
}

type Config struct {
	ConnectionsTable string
	Bucket           string
	Offline          bool
	Region           string
	DynamoDBEndpoint string
	S3Endpoint       string
	PushEndpoint     string
	MetricsNamespace string
}

// Flags binds c to command line flags and their environment variables.
func Flags(c *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "connections-table",
			Usage:       "DynamoDB table holding open connections",
			Value:       "ws-streaming-upload-connections-dev",
			EnvVars:     []string{"CONNECTIONS_TABLE"},
			Destination: &c.ConnectionsTable,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "S3 bucket uploads are written to",
			Value:       "ws-streaming-upload-dev",
			EnvVars:     []string{"S3_BUCKET_NAME"},
			Destination: &c.Bucket,
		},
		&cli.BoolFlag{
			Name:        "offline",
			Usage:       "use local DynamoDB, MinIO and gateway endpoints, defaults to true if " + OfflineEnv + " is true or 1",
			Value:       OfflineFromEnv(),
			Destination: &c.Offline,
		},
		&cli.StringFlag{
			Name:        "region",
			Usage:       "AWS region",
			Value:       "ap-northeast-1",
			EnvVars:     []string{"AWS_REGION"},
			Destination: &c.Region,
		},
		&cli.StringFlag{
			Name:        "dynamodb-endpoint",
			Usage:       "DynamoDB endpoint override, defaults to " + localDynamoDBEndpoint + " when offline",
			EnvVars:     []string{"DYNAMODB_ENDPOINT"},
			Destination: &c.DynamoDBEndpoint,
		},
		&cli.StringFlag{
			Name:        "s3-endpoint",
			Usage:       "S3 endpoint override, defaults to " + localS3Endpoint + " when offline",
			EnvVars:     []string{"S3_ENDPOINT"},
			Destination: &c.S3Endpoint,
		},
		&cli.StringFlag{
			Name:        "push-endpoint",
			Usage:       "API Gateway Management API endpoint override, defaults to " + localPushEndpoint + " when offline",
			EnvVars:     []string{"PUSH_ENDPOINT"},
			Destination: &c.PushEndpoint,
		},
		&cli.StringFlag{
			Name:        "metrics-namespace",
			Usage:       "CloudWatch namespace, metrics are not published when offline",
			Value:       "wsrelay",
			EnvVars:     []string{"METRICS_NAMESPACE"},
			Destination: &c.MetricsNamespace,
		},
	}
}

// AWS loads the shared AWS configuration. Offline, static credentials are used
// because the local services ignore them.
func (c Config) AWS(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}
	if c.Offline {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to load aws config: %w", err)
	}
	return cfg, nil
}

func (c Config) DynamoDB(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Offline {
			o.Region = localDynamoDBRegion
		}
		if endpoint := c.dynamoDBEndpoint(); endpoint != "" {
			o.EndpointResolver = dynamodb.EndpointResolverFromURL(endpoint)
		}
	})
}

// S3 returns a client for the object store. MinIO requires path-style
// addressing and its own credentials.
func (c Config) S3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Offline {
			o.Region = localS3Region
			o.UsePathStyle = true
			o.Credentials = credentials.NewStaticCredentialsProvider("minioadmin", "minioadmin", "")
		}
		if endpoint := c.s3Endpoint(); endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(endpoint, func(e *aws.Endpoint) {
				e.HostnameImmutable = true
			})
		}
	})
}

func (c Config) CloudWatch(cfg aws.Config) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(cfg)
}

// MetricsEnabled is false offline, there's nowhere to send them.
func (c Config) MetricsEnabled() bool {
	return !c.Offline && c.MetricsNamespace != ""
}

// PushEndpointFor returns the management API endpoint for a request that arrived
// on the given domain and stage.
func (c Config) PushEndpointFor(domainName, stage string) string {
	if c.PushEndpoint != "" {
		return c.PushEndpoint
	}
	if c.Offline {
		return localPushEndpoint
	}
	return fmt.Sprintf("https://%s/%s", domainName, stage)
}

func (c Config) dynamoDBEndpoint() string {
	if c.DynamoDBEndpoint == "" && c.Offline {
		return localDynamoDBEndpoint
	}
	return c.DynamoDBEndpoint
}

func (c Config) s3Endpoint() string {
	if c.S3Endpoint == "" && c.Offline {
		return localS3Endpoint
	}
	return c.S3Endpoint
}
