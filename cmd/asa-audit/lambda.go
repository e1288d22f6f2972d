package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newLambdaCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve AWS Lambda invocations, one collection per trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveLambda(v)
		},
	}
}

// serveLambda blocks serving invocations. Configuration is loaded per
// invocation so every run starts from a fresh state.
func serveLambda(v *viper.Viper) error {
	lambda.Start(handler(v))
	return nil
}

// handler returns the function invoked once per trigger. The trigger payload
// is ignored; a returned error marks the invocation as failed.
func handler(v *viper.Viper) func(ctx context.Context, event json.RawMessage) error {
	return func(ctx context.Context, event json.RawMessage) (err error) {
		app, err := newApp(ctx, v)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, app.close(context.Background())) }()

		fields := []zap.Field{zap.String("function", lambdacontext.FunctionName)}
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			fields = append(fields,
				zap.String("request_id", lc.AwsRequestID),
				zap.String("function_arn", lc.InvokedFunctionArn))
		}
		if deadline, ok := ctx.Deadline(); ok {
			fields = append(fields, zap.Time("deadline", deadline))
		}
		app.logger.Info("invocation started", fields...)

		_, err = app.runner.Run(ctx)
		return err
	}
}
