package stores

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// awsSettings holds the connection settings shared by the AWS stores
type awsSettings struct {
	Region          string
	Profile         string
	Endpoint        string // LocalStack or other test endpoints
	AccessKeyID     string
	SecretAccessKey string
}

func parseAWSSettings(cfg map[string]interface{}) awsSettings {
	s := awsSettings{
		Region:          stringValue(cfg, "region"),
		Profile:         stringValue(cfg, "profile"),
		Endpoint:        stringValue(cfg, "endpoint"),
		AccessKeyID:     stringValue(cfg, "access_key_id"),
		SecretAccessKey: stringValue(cfg, "secret_access_key"),
	}
	if s.Region == "" {
		s.Region = "us-east-1"
	}
	return s
}

func loadAWSConfig(ctx context.Context, s awsSettings) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.Region)}
	if s.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(s.Profile))
	}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
