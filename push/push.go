// Package push delivers messages to WebSocket clients through the API Gateway
// Management API.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/smithy-go"
	"golang.org/x/exp/slog"
)

// Status is the outcome of a single delivery attempt.
type Status int

const (
	// Delivered means the gateway accepted the message.
	Delivered Status = iota
	// TargetGone means the connection no longer exists and never will again.
	TargetGone
	// Failed covers every other failure.
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case TargetGone:
		return "gone"
	default:
		return "failed"
	}
}

// Result of a push. Err is set only when Status is Failed.
type Result struct {
	Status Status
	Err    error
}

// PostToConnectionAPI is the subset of the management API client used to push.
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// ClientFactory returns a management API client for a gateway endpoint, e.g.
// https://abc.execute-api.eu-west-1.amazonaws.com/wss
type ClientFactory func(endpoint string) PostToConnectionAPI

// NewClientFactory creates management API clients from cfg, pointing each one at
// the requested endpoint.
func NewClientFactory(cfg aws.Config) ClientFactory {
	return func(endpoint string) PostToConnectionAPI {
		return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
			o.EndpointResolver = apigatewaymanagementapi.EndpointResolverFromURL(endpoint)
		})
	}
}

// NewChannel creates a Channel.
func NewChannel(log *slog.Logger, clients ClientFactory, offline bool) *Channel {
	return &Channel{
		Log:     log,
		Clients: clients,
		Offline: offline,
	}
}

type Channel struct {
	Log     *slog.Logger
	Clients ClientFactory
	// Offline tolerates the 404 returned by local gateway emulators, which
	// accept WebSocket connections but don't implement the management API.
	Offline bool
}

// Push makes one delivery attempt of data to connectionID.
func (c *Channel) Push(ctx context.Context, endpoint, connectionID string, data []byte) Result {
	_, err := c.Clients(endpoint).PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err == nil {
		return Result{Status: Delivered}
	}
	if IsGone(err) {
		return Result{Status: TargetGone}
	}
	if c.Offline && statusCode(err) == http.StatusNotFound {
		c.Log.Warn("Management API not available locally, message not sent",
			slog.String("connectionId", connectionID),
			slog.String("endpoint", endpoint))
		return Result{Status: Delivered}
	}
	return Result{Status: Failed, Err: fmt.Errorf("push: failed to post to connection %s: %w", connectionID, err)}
}

// IsGone reports whether err means the target connection no longer exists.
func IsGone(err error) bool {
	var gone *types.GoneException
	if errors.As(err, &gone) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "GoneException" {
		return true
	}
	return statusCode(err) == http.StatusGone
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
