package storage

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/bucketedge/internal/xerrors"
)

// SSMGetter is the subset of *ssm.Client used for bucket discovery.
type SSMGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveBucketName reads the bucket name from an SSM parameter so deployments
// can move the site between buckets without changing the service flags.
func ResolveBucketName(ctx context.Context, client SSMGetter, param string) (string, error) {
	if param == "" {
		return "", xerrors.New("ssm parameter name is required")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	name := strings.TrimSpace(*out.Parameter.Value)
	if name == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return name, nil
}
