// Package s3 implements the object-store gateway on Amazon S3 or
// S3-compatible storage using the AWS SDK v2.
package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// Config holds configuration for the S3 gateway.
type Config struct {
	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// AccessKeyID and SecretAccessKey override the SDK credential chain
	// when both are set.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool
}

// Gateway is an S3-backed implementation of objstore.Gateway.
type Gateway struct {
	client *s3.Client
}

// New creates a gateway with an existing client.
func New(client *s3.Client) *Gateway {
	return &Gateway{client: client}
}

// NewFromConfig creates a gateway by building an S3 client from config.
// This is the preferred constructor when you don't have an existing client.
func NewFromConfig(ctx context.Context, config Config) (*Gateway, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Gateway{client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// BucketExists implements objstore.Gateway.
func (g *Gateway) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head bucket %q: %w", bucket, err)
	}
	return true, nil
}

// CreateBucket implements objstore.Gateway.
func (g *Gateway) CreateBucket(ctx context.Context, bucket, cannedACL string) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	if cannedACL != "" {
		input.ACL = types.BucketCannedACL(cannedACL)
	}
	_, err := g.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}
	return nil
}

// ListObjects implements objstore.Gateway. Restore status is requested as
// an optional object attribute so mid-restore objects are visible without
// a head call per key.
func (g *Gateway) ListObjects(ctx context.Context, bucket, prefix string) ([]objstore.ObjectInfo, error) {
	var objects []objstore.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket:                   aws.String(bucket),
		Prefix:                   aws.String(prefix),
		OptionalObjectAttributes: []types.OptionalObjectAttributes{types.OptionalObjectAttributesRestoreStatus},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) {
				return nil, objstore.ErrBucketNotFound
			}
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			info := objstore.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				StorageClass: objstore.StorageClass(obj.StorageClass),
			}
			if info.StorageClass == "" {
				info.StorageClass = objstore.ClassStandard
			}
			if rs := obj.RestoreStatus; rs != nil {
				if aws.ToBool(rs.IsRestoreInProgress) {
					info.Restore = objstore.RestoreInProgress
				} else if rs.RestoreExpiryDate != nil {
					info.Restore = objstore.RestoreDone
					expiry := aws.ToTime(rs.RestoreExpiryDate)
					info.RestoreExpiry = &expiry
				}
			}
			objects = append(objects, info)
		}
	}

	return objects, nil
}

// HeadObject implements objstore.Gateway.
func (g *Gateway) HeadObject(ctx context.Context, bucket, key string) (objstore.ObjectInfo, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return objstore.ObjectInfo{}, objstore.ErrObjectNotFound
		}
		return objstore.ObjectInfo{}, fmt.Errorf("failed to head s3://%s/%s: %w", bucket, key, err)
	}

	info := objstore.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		StorageClass: objstore.StorageClass(out.StorageClass),
	}
	if info.StorageClass == "" {
		info.StorageClass = objstore.ClassStandard
	}
	info.Restore, info.RestoreExpiry = parseRestoreHeader(aws.ToString(out.Restore))
	return info, nil
}

// CopyObject implements objstore.Gateway: a self-copy carrying the target
// storage class, which is how S3 transitions a single object's class.
func (g *Gateway) CopyObject(ctx context.Context, bucket, key string, target objstore.StorageClass, cannedACL string) error {
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(bucket + "/" + key),
		StorageClass:      types.StorageClass(target),
		MetadataDirective: types.MetadataDirectiveCopy,
	}
	if cannedACL != "" {
		input.ACL = types.ObjectCannedACL(cannedACL)
	}
	if _, err := g.client.CopyObject(ctx, input); err != nil {
		return fmt.Errorf("failed to copy s3://%s/%s to class %s: %w", bucket, key, target, err)
	}
	return nil
}

// RestoreObject implements objstore.Gateway.
func (g *Gateway) RestoreObject(ctx context.Context, bucket, key string, spec objstore.RestoreSpec) error {
	tier := types.Tier(spec.Tier)
	if spec.Tier == "" {
		tier = types.TierStandard
	}
	_, err := g.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(int32(spec.Days)),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: tier,
			},
		},
	})
	if err != nil {
		// A restore already in flight surfaces as RestoreAlreadyInProgress;
		// treat it as success since the outcome is the same.
		var apiErr interface{ ErrorCode() string }
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "RestoreAlreadyInProgress" {
			return nil
		}
		return fmt.Errorf("failed to restore s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

var _ objstore.Gateway = (*Gateway)(nil)
