package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	awscdkapigateway "github.com/aws/aws-cdk-go/awscdkapigatewayv2alpha/v2"
	awscdkapigatewayintegrations "github.com/aws/aws-cdk-go/awscdkapigatewayv2integrationsalpha/v2"
	awslambdago "github.com/aws/aws-cdk-go/awscdklambdagoalpha/v2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

type WebSocketStackProps struct {
	awscdk.StackProps
}

func NewWebSocketStack(scope constructs.Construct, id string, props *WebSocketStackProps) awscdk.Stack {
	var sprops awscdk.StackProps
	if props != nil {
		sprops = props.StackProps
	}
	stack := awscdk.NewStack(scope, &id, &sprops)

	// One record per open connection.
	// connectionId | connectedAt | ttl        |
	// -------------|-------------|------------|
	// abc123=      | 1700000000  | 1700086400 |
	connectionsTable := awsdynamodb.NewTable(stack, jsii.Ptr("Connections"), &awsdynamodb.TableProps{
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.Ptr("connectionId"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		BillingMode:         awsdynamodb.BillingMode_PAY_PER_REQUEST,
		RemovalPolicy:       awscdk.RemovalPolicy_DESTROY,
		TimeToLiveAttribute: jsii.Ptr("ttl"),
	})

	// Uploads are keyed {connectionId}/{epochMillis}-{fileName}.
	uploadsBucket := awss3.NewBucket(stack, jsii.Ptr("Uploads"), &awss3.BucketProps{
		BlockPublicAccess: awss3.BlockPublicAccess_BLOCK_ALL(),
		Encryption:        awss3.BucketEncryption_S3_MANAGED,
		EnforceSSL:        jsii.Ptr(true),
		RemovalPolicy:     awscdk.RemovalPolicy_DESTROY,
		AutoDeleteObjects: jsii.Ptr(true),
	})

	bundlingOptions := &awslambdago.BundlingOptions{
		GoBuildFlags: &[]*string{jsii.Ptr(`-ldflags "-s -w" -tags lambda.norpc`)},
	}

	relay := awslambdago.NewGoFunction(stack, jsii.Ptr("Relay"), &awslambdago.GoFunctionProps{
		Runtime:      awslambda.Runtime_PROVIDED_AL2(),
		Architecture: awslambda.Architecture_ARM_64(),
		MemorySize:   jsii.Ptr(1024.0),
		Entry:        jsii.Ptr("../connection/relay"),
		Bundling:     bundlingOptions,
		Environment: &map[string]*string{
			"CONNECTIONS_TABLE": connectionsTable.TableName(),
			"S3_BUCKET_NAME":    uploadsBucket.BucketName(),
		},
	})
	connectionsTable.GrantWriteData(relay)
	uploadsBucket.GrantPut(relay, nil)
	relay.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Actions:   jsii.Strings("cloudwatch:PutMetricData"),
		Resources: jsii.Strings("*"),
	}))

	integration := func(name string) awscdkapigateway.WebSocketRouteIntegration {
		return awscdkapigatewayintegrations.NewWebSocketLambdaIntegration(jsii.Ptr(name), relay)
	}

	// Messages are routed on their action field, e.g. {"action":"upload"}.
	webSocketAPI := awscdkapigateway.NewWebSocketApi(stack, jsii.Ptr("WebsocketApi"), &awscdkapigateway.WebSocketApiProps{
		RouteSelectionExpression: jsii.Ptr("$request.body.action"),
		ConnectRouteOptions: &awscdkapigateway.WebSocketRouteOptions{
			Integration:    integration("ConnectRoute"),
			Authorizer:     awscdkapigateway.NewWebSocketNoneAuthorizer(),
			ReturnResponse: jsii.Ptr(true),
		},
		DefaultRouteOptions: &awscdkapigateway.WebSocketRouteOptions{
			Integration:    integration("DefaultRoute"),
			ReturnResponse: jsii.Ptr(true),
		},
		DisconnectRouteOptions: &awscdkapigateway.WebSocketRouteOptions{
			Integration:    integration("DisconnectRoute"),
			ReturnResponse: jsii.Ptr(true),
		},
	})
	webSocketAPI.AddRoute(jsii.Ptr("sendMessage"), &awscdkapigateway.WebSocketRouteOptions{
		Integration: integration("SendMessageRoute"),
	})
	webSocketAPI.AddRoute(jsii.Ptr("upload"), &awscdkapigateway.WebSocketRouteOptions{
		Integration: integration("UploadRoute"),
	})
	webSocketAPI.GrantManageConnections(relay)

	awscdkapigateway.NewWebSocketStage(stack, jsii.Ptr("WebsocketApiStage"), &awscdkapigateway.WebSocketStageProps{
		AutoDeploy:   jsii.Ptr(true),
		StageName:    jsii.Ptr("wss"),
		WebSocketApi: webSocketAPI,
	})

	// Add /wss to the URL to access it.
	awscdk.NewCfnOutput(stack, jsii.String("url"), &awscdk.CfnOutputProps{
		ExportName: jsii.String("WebSocketAPI"),
		Value:      webSocketAPI.ApiEndpoint(),
	})
	awscdk.NewCfnOutput(stack, jsii.String("bucket"), &awscdk.CfnOutputProps{
		ExportName: jsii.String("UploadsBucket"),
		Value:      uploadsBucket.BucketName(),
	})

	return stack
}

func main() {
	defer jsii.Close()
	app := awscdk.NewApp(nil)
	NewWebSocketStack(app, "WebSocketStack", nil)
	app.Synth(nil)
}
