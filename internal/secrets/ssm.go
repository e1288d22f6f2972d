package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the subset of the SSM client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM reads SecureString parameters from AWS Systems Manager Parameter Store
// using the ambient execution identity.
type SSM struct {
	client ssmAPI
}

// NewSSM loads the default AWS configuration and returns an SSM store.
func NewSSM(ctx context.Context) (*SSM, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("ssm: load aws config: %w", err)
	}
	return &SSM{client: ssm.NewFromConfig(cfg)}, nil
}

// NewSSMWithClient wraps an existing client.
func NewSSMWithClient(client ssmAPI) *SSM {
	return &SSM{client: client}
}

// GetParameter returns the decrypted parameter value.
func (s *SSM) GetParameter(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("ssm %s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("ssm %s: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm %s: %w", name, ErrNotFound)
	}
	return aws.ToString(out.Parameter.Value), nil
}
