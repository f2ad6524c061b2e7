package remotecfg

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/ratelog/internal/xerrors"
)

// Source returns the current overrides document. version is a monotonically
// increasing identifier when the backend has one, 0 otherwise.
type Source interface {
	Fetch(ctx context.Context) (doc string, version int64, err error)
}

// SSMAPI is the subset of *ssm.Client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads one SecureString or String parameter.
type SSMSource struct {
	client SSMAPI
	param  string
}

// NewSSMSource builds a source from the default AWS credential chain unless
// awsCfg is given.
func NewSSMSource(ctx context.Context, param string, awsCfg *aws.Config) (*SSMSource, error) {
	if param == "" {
		return nil, xerrors.New("ssm parameter name is required")
	}
	var cfg aws.Config
	if awsCfg != nil {
		cfg = *awsCfg
	} else {
		var err error
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	return &SSMSource{client: ssm.NewFromConfig(cfg), param: param}, nil
}

// NewSSMSourceWithClient is used by tests and callers that share a client.
func NewSSMSourceWithClient(client SSMAPI, param string) *SSMSource {
	return &SSMSource{client: client, param: param}
}

func (s *SSMSource) Fetch(ctx context.Context) (string, int64, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", 0, xerrors.Wrapf(err, "get SSM parameter %s", s.param)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", 0, xerrors.Newf("SSM parameter %s has no value", s.param)
	}
	doc := strings.TrimSpace(*out.Parameter.Value)
	if doc == "" {
		return "", 0, xerrors.Newf("SSM parameter %s is empty", s.param)
	}
	return doc, out.Parameter.Version, nil
}
