package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/a-h/wsrelay/backoff"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the Store.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

type StoreOption func(*StoreOptions) error

type StoreOptions struct {
	Client DynamoDBAPI
}

func WithClient(client DynamoDBAPI) StoreOption {
	return func(o *StoreOptions) error {
		o.Client = client
		return nil
	}
}

// NewStore creates a new connection store using default config.
func NewStore(ctx context.Context, tableName string, opts ...StoreOption) (s *Store, err error) {
	o := StoreOptions{}
	for _, opt := range opts {
		err = opt(&o)
		if err != nil {
			return
		}
	}
	if o.Client == nil {
		var cfg aws.Config
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return
		}
		o.Client = dynamodb.NewFromConfig(cfg)
	}
	s = &Store{
		Client:    o.Client,
		TableName: aws.String(tableName),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	return
}

type Store struct {
	Client    DynamoDBAPI
	TableName *string
	Now       func() time.Time
}

// Connections are kept for a day. API Gateway closes them long before that,
// so the TTL only catches records whose disconnect event was never handled.
var maxConnectionDuration = 24 * time.Hour

func NewConnectionRecord(connectionID string, now time.Time) ConnectionRecord {
	return ConnectionRecord{
		ConnectionID: connectionID,
		ConnectedAt:  now.Unix(),
		ExpiresAt:    now.Unix() + int64(maxConnectionDuration/time.Second),
	}
}

type ConnectionRecord struct {
	ConnectionID string `dynamodbav:"connectionId"`
	// ConnectedAt is the Unix time the connection was opened.
	ConnectedAt int64 `dynamodbav:"connectedAt"`
	// ExpiresAt is used as the table's TTL attribute.
	ExpiresAt int64 `dynamodbav:"ttl"`
}

// Put records an open connection.
func (ddb *Store) Put(ctx context.Context, connectionID string) (err error) {
	item := NewConnectionRecord(connectionID, ddb.Now())
	m, err := attributevalue.MarshalMap(item)
	if err != nil {
		return
	}
	_, err = ddb.Client.PutItem(ctx, &dynamodb.PutItemInput{
		Item:      m,
		TableName: ddb.TableName,
	})
	return
}

// Delete removes the connection. Deleting a missing connection is not an error.
func (ddb *Store) Delete(ctx context.Context, connectionID string) (err error) {
	_, err = ddb.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		Key: map[string]types.AttributeValue{
			"connectionId": &types.AttributeValueMemberS{Value: connectionID},
		},
		TableName: ddb.TableName,
	})
	return
}

// CreateTable creates the connections table if it doesn't already exist, waits
// for it to become active, and enables expiry on the ttl attribute.
func (ddb *Store) CreateTable(ctx context.Context) (err error) {
	_, err = ddb.Client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: ddb.TableName,
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("connectionId"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("connectionId"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("db: failed to create table %s: %w", *ddb.TableName, err)
	}

	// Wait up to 6.2 seconds for the table.
	bo := backoff.New(5)
	for {
		if err = bo(ctx); err != nil {
			return fmt.Errorf("db: table %s did not become active: %w", *ddb.TableName, err)
		}
		dto, err := ddb.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: ddb.TableName,
		})
		if err != nil {
			return fmt.Errorf("db: failed to describe table %s: %w", *ddb.TableName, err)
		}
		if dto.Table != nil && dto.Table.TableStatus == types.TableStatusActive {
			break
		}
	}

	_, err = ddb.Client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: ddb.TableName,
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("ttl"),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil && !isTTLAlreadyEnabled(err) {
		return fmt.Errorf("db: failed to enable ttl on %s: %w", *ddb.TableName, err)
	}
	return nil
}

func isTTLAlreadyEnabled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" &&
		strings.Contains(apiErr.ErrorMessage(), "already enabled")
}
