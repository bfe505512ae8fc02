package destination

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

type B2 struct {
	Bucket     string
	Path       string
	AccountID  string
	AccountKey string
}

func newB2(config map[string]string) *B2 {
	return &B2{
		Bucket:     config["bucket"],
		Path:       strings.Trim(config["path"], "/"),
		AccountID:  config["account_id"],
		AccountKey: config["account_key"],
	}
}

func (d *B2) Type() domain.DestinationType { return domain.DestinationB2 }

func (d *B2) RepositoryAddress() string {
	return fmt.Sprintf("b2:%s:%s", d.Bucket, d.Path)
}

func (d *B2) CredentialEnvironment() map[string]string {
	return map[string]string{
		"B2_ACCOUNT_ID":  d.AccountID,
		"B2_ACCOUNT_KEY": d.AccountKey,
	}
}

func (d *B2) Validate() error {
	return requireFields(domain.DestinationB2, map[string]string{
		"bucket":      d.Bucket,
		"account_id":  d.AccountID,
		"account_key": d.AccountKey,
	}, "bucket", "account_id", "account_key")
}

func (d *B2) EnsureRepositoryInitialized(_ context.Context, _ string) error {
	return d.Validate()
}

// RepositoryLikelyExists is optimistic for B2.
func (d *B2) RepositoryLikelyExists(_ context.Context) bool { return true }

func (d *B2) Redacted() map[string]any {
	return map[string]any{
		"type":            string(domain.DestinationB2),
		"bucket":          d.Bucket,
		"path":            d.Path,
		"has_credentials": d.AccountID != "" && d.AccountKey != "",
	}
}
