package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config beschreibt ein S3-kompatibles Ziel (z.B. Strato HiDrive, MinIO).
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// NewS3Client erstellt einen S3-Client für einen eigenen Endpoint.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				SigningRegion:     cfg.Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// UploadFile lädt eine Datei ins S3 hoch und gibt den Link zurück.
func UploadFile(ctx context.Context, client *s3.Client, cfg S3Config, key string, data []byte) (string, error) {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", cfg.Endpoint, cfg.Bucket, key), nil
}

// ObjectInfo ist die minimale Sicht auf ein gespeichertes Objekt, die für die Rotation nötig ist.
type ObjectInfo struct {
	Key          string
	LastModified int64
}

// ExpiredKeys liefert die Schlüssel, die bei keep aufbewahrten Objekten gelöscht werden müssen.
// Die neuesten Objekte bleiben erhalten.
func ExpiredKeys(objects []ObjectInfo, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(objects) <= keep {
		return nil
	}
	sorted := append([]ObjectInfo(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastModified > sorted[j].LastModified
	})
	keys := make([]string, 0, len(sorted)-keep)
	for _, obj := range sorted[keep:] {
		keys = append(keys, obj.Key)
	}
	return keys
}

// RotateObjects löscht alle bis auf die keep neuesten Objekte unter prefix.
func RotateObjects(ctx context.Context, client *s3.Client, cfg S3Config, prefix string, keep int) ([]string, error) {
	output, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}

	objects := make([]ObjectInfo, 0, len(output.Contents))
	for _, obj := range output.Contents {
		info := ObjectInfo{Key: aws.ToString(obj.Key)}
		if obj.LastModified != nil {
			info.LastModified = obj.LastModified.UnixNano()
		}
		objects = append(objects, info)
	}

	expired := ExpiredKeys(objects, keep)
	var deleted []string
	for _, key := range expired {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", key, err)
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}
