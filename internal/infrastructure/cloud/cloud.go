// Package cloud builds AWS SDK clients for the DynamoDB stores and the AWS
// device registry.
//
// With no endpoint the default credential chain and regional endpoints are
// used. Setting an endpoint (a local emulator) switches to static
// credentials, falling back to dummy keys that emulators accept.
package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
)

const dummyCredential = "dummy"

// Options selects the region and, for emulators, an endpoint and keys.
type Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// LoadConfig resolves an aws.Config for opts.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	if opts.Region == "" {
		return aws.Config{}, fmt.Errorf("region is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		access, secret := opts.AccessKey, opts.SecretKey
		if access == "" {
			access = dummyCredential
		}
		if secret == "" {
			secret = dummyCredential
		}
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(access, secret, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return cfg, nil
}

// DynamoDB returns a DynamoDB client.
func DynamoDB(ctx context.Context, opts Options) (*dynamodb.Client, error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// IoT returns the device registry control-plane client and the data-plane
// client used for shadows. dataEndpoint is the account-specific data host;
// a bare hostname is given an https scheme.
func IoT(ctx context.Context, opts Options, dataEndpoint string) (*iot.Client, *iotdataplane.Client, error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	control := iot.NewFromConfig(cfg, func(o *iot.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	data := iotdataplane.NewFromConfig(cfg, func(o *iotdataplane.Options) {
		switch {
		case dataEndpoint != "":
			o.BaseEndpoint = aws.String(withScheme(dataEndpoint))
		case opts.Endpoint != "":
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return control, data, nil
}

func withScheme(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}
