// Package paramstore reads deployment settings from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

type API interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var _ API = (*ssm.Client)(nil)

type Store struct {
	api API
}

func New(api API) *Store { return &Store{api: api} }

// Get returns the trimmed value of name. SecureString parameters are decrypted.
// A missing or blank value is an error.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("SSM parameter name is empty")
	}
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}

	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}
