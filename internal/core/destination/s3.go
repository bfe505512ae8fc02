package destination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

const (
	defaultS3Endpoint = "s3.amazonaws.com"
	s3CheckTimeout    = 10 * time.Second
)

type S3 struct {
	Endpoint  string
	Bucket    string
	Path      string
	Region    string
	AccessKey string
	SecretKey string

	check bool
}

func newS3(config map[string]string, check bool) *S3 {
	endpoint := strings.TrimSuffix(config["endpoint"], "/")
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	}
	return &S3{
		Endpoint:  endpoint,
		Bucket:    config["bucket"],
		Path:      strings.Trim(config["path"], "/"),
		Region:    config["region"],
		AccessKey: config["access_key"],
		SecretKey: config["secret_key"],
		check:     check,
	}
}

func (d *S3) Type() domain.DestinationType { return domain.DestinationS3 }

// RepositoryAddress yields s3:<endpoint>/<bucket>[/<path>].
func (d *S3) RepositoryAddress() string {
	addr := fmt.Sprintf("s3:%s/%s", d.Endpoint, d.Bucket)
	if d.Path != "" {
		addr += "/" + d.Path
	}
	return addr
}

func (d *S3) CredentialEnvironment() map[string]string {
	return map[string]string{
		"AWS_ACCESS_KEY_ID":     d.AccessKey,
		"AWS_SECRET_ACCESS_KEY": d.SecretKey,
		"AWS_DEFAULT_REGION":    d.Region,
	}
}

func (d *S3) Validate() error {
	return requireFields(domain.DestinationS3, map[string]string{
		"bucket":     d.Bucket,
		"access_key": d.AccessKey,
		"secret_key": d.SecretKey,
		"region":     d.Region,
	}, "bucket", "access_key", "secret_key", "region")
}

// EnsureRepositoryInitialized only validates. The bucket is checked by the
// engine on its first write.
func (d *S3) EnsureRepositoryInitialized(_ context.Context, _ string) error {
	return d.Validate()
}

// RepositoryLikelyExists looks for the repository config object with a single
// ListObjectsV2 call when the check is enabled. Without probing, or when the
// check itself fails, the answer is optimistic.
func (d *S3) RepositoryLikelyExists(ctx context.Context) bool {
	if !d.check || d.Validate() != nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s3CheckTimeout)
	defer cancel()

	prefix := "config"
	if d.Path != "" {
		prefix = d.Path + "/config"
	}
	out, err := d.client().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return true
	}
	return len(out.Contents) > 0
}

func (d *S3) client() *s3.Client {
	return s3.New(s3.Options{
		BaseEndpoint: aws.String(d.endpointURL()),
		Region:       d.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(d.AccessKey, d.SecretKey, ""),
		UsePathStyle: true,
	})
}

func (d *S3) endpointURL() string {
	if strings.HasPrefix(d.Endpoint, "http://") || strings.HasPrefix(d.Endpoint, "https://") {
		return d.Endpoint
	}
	return "https://" + d.Endpoint
}

func (d *S3) Redacted() map[string]any {
	return map[string]any{
		"type":            string(domain.DestinationS3),
		"endpoint":        d.Endpoint,
		"bucket":          d.Bucket,
		"path":            d.Path,
		"region":          d.Region,
		"has_credentials": d.AccessKey != "" && d.SecretKey != "",
	}
}
