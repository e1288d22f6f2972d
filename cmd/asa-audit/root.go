package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hejijunhao/asa-audit/internal/config"
)

// lambdaRuntimeEnv is set by the AWS Lambda runtime in every function container.
const lambdaRuntimeEnv = "AWS_LAMBDA_RUNTIME_API"

func newRootViper() *viper.Viper {
	v := viper.New()
	config.Bind(v)
	return v
}

func newRootCmd() *cobra.Command {
	v := newRootViper()

	root := &cobra.Command{
		Use:     "asa-audit",
		Short:   "Collect ASA audit events into structured logs",
		Version: version,
		// With no subcommand, serve Lambda invocations inside a Lambda
		// runtime and run once everywhere else.
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv(lambdaRuntimeEnv) != "" {
				return serveLambda(v)
			}
			return runOnce(cmd, v)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	root.PersistentFlags().String("log-format", "", "Log format (json, console)")
	_ = v.BindPFlag("log_format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newRunCmd(v), newLambdaCmd(v))
	return root
}
