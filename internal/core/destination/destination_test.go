package destination

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

func TestNew_UnknownType(t *testing.T) {
	_, err := New("dropbox", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		destType domain.DestinationType
		config   map[string]string
		wantErr  string
	}{
		{
			name:     "s3 complete",
			destType: domain.DestinationS3,
			config:   map[string]string{"bucket": "b", "access_key": "a", "secret_key": "s", "region": "us-east-1"},
		},
		{
			name:     "s3 missing secret key",
			destType: domain.DestinationS3,
			config:   map[string]string{"bucket": "b", "access_key": "a", "region": "us-east-1"},
			wantErr:  "secret_key",
		},
		{
			name:     "s3 missing region",
			destType: domain.DestinationS3,
			config:   map[string]string{"bucket": "b", "access_key": "a", "secret_key": "s"},
			wantErr:  "region",
		},
		{
			name:     "ftp complete",
			destType: domain.DestinationFTP,
			config:   map[string]string{"host": "ftp.example.com", "username": "u", "password": "p"},
		},
		{
			name:     "ftp bad port",
			destType: domain.DestinationFTP,
			config:   map[string]string{"host": "ftp.example.com", "username": "u", "password": "p", "port": "70000"},
			wantErr:  "port",
		},
		{
			name:     "ftp unknown protocol",
			destType: domain.DestinationFTP,
			config:   map[string]string{"host": "h", "username": "u", "password": "p", "protocol": "ftps"},
			wantErr:  "protocol",
		},
		{
			name:     "ftp missing password",
			destType: domain.DestinationFTP,
			config:   map[string]string{"host": "h", "username": "u"},
			wantErr:  "password",
		},
		{
			name:     "b2 complete",
			destType: domain.DestinationB2,
			config:   map[string]string{"bucket": "b", "account_id": "id", "account_key": "key"},
		},
		{
			name:     "b2 missing key",
			destType: domain.DestinationB2,
			config:   map[string]string{"bucket": "b", "account_id": "id"},
			wantErr:  "account_key",
		},
		{
			name:     "local relative",
			destType: domain.DestinationLocal,
			config:   map[string]string{"path": "backups"},
			wantErr:  "absolute",
		},
		{
			name:     "local missing path",
			destType: domain.DestinationLocal,
			config:   map[string]string{},
			wantErr:  "path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := New(tt.destType, tt.config, Options{})
			require.NoError(t, err)

			err = dest.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocal_ValidateMissingDirectoryWithWritableParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not", "yet")
	dest, err := New(domain.DestinationLocal, map[string]string{"path": path}, Options{})
	require.NoError(t, err)

	assert.NoError(t, dest.Validate())
}

func TestLocal_ValidateRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	dest, err := New(domain.DestinationLocal, map[string]string{"path": file}, Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, dest.Validate(), ErrInvalidConfig)
}

func TestLocal_EnsureIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo")
	dest, err := New(domain.DestinationLocal, map[string]string{"path": path}, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, dest.EnsureRepositoryInitialized(ctx, "pw"))
	assert.False(t, dest.RepositoryLikelyExists(ctx))

	// Simulate an initialized repository and make sure a second ensure keeps it.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "data"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(path, "config"), []byte("repo"), 0o600))

	require.NoError(t, dest.EnsureRepositoryInitialized(ctx, "pw"))
	assert.True(t, dest.RepositoryLikelyExists(ctx))

	data, err := os.ReadFile(filepath.Join(path, "config"))
	require.NoError(t, err)
	assert.Equal(t, "repo", string(data))
}

func TestRepositoryAddressAndEnvironment(t *testing.T) {
	s3Dest, _ := New(domain.DestinationS3, map[string]string{
		"bucket": "panel", "path": "/nightly/", "access_key": "AK", "secret_key": "SK", "region": "eu-west-1",
	}, Options{})
	assert.Equal(t, "s3:s3.amazonaws.com/panel/nightly", s3Dest.RepositoryAddress())
	assert.Equal(t, "SK", s3Dest.CredentialEnvironment()["AWS_SECRET_ACCESS_KEY"])
	assert.Equal(t, "eu-west-1", s3Dest.CredentialEnvironment()["AWS_DEFAULT_REGION"])

	minio, _ := New(domain.DestinationS3, map[string]string{"endpoint": "http://minio:9000/", "bucket": "b"}, Options{})
	assert.Equal(t, "s3:http://minio:9000/b", minio.RepositoryAddress())

	ftp, _ := New(domain.DestinationFTP, map[string]string{
		"protocol": "sftp", "host": "h", "username": "u", "password": "p", "path": "/backups",
	}, Options{})
	assert.Equal(t, "rclone:vsispanelftp:/backups", ftp.RepositoryAddress())
	env := ftp.CredentialEnvironment()
	assert.Equal(t, "sftp", env["RCLONE_CONFIG_VSISPANELFTP_TYPE"])
	assert.Equal(t, "22", env["RCLONE_CONFIG_VSISPANELFTP_PORT"])

	b2, _ := New(domain.DestinationB2, map[string]string{"bucket": "b", "path": "srv1"}, Options{})
	assert.Equal(t, "b2:b:srv1", b2.RepositoryAddress())
}

func TestRedactedNeverLeaksSecrets(t *testing.T) {
	configs := map[domain.DestinationType]map[string]string{
		domain.DestinationS3:  {"bucket": "b", "access_key": "AK", "secret_key": "topsecret", "region": "r"},
		domain.DestinationFTP: {"host": "h", "username": "u", "password": "topsecret"},
		domain.DestinationB2:  {"bucket": "b", "account_id": "id", "account_key": "topsecret"},
	}
	for destType, cfg := range configs {
		dest, err := New(destType, cfg, Options{})
		require.NoError(t, err)
		redacted := dest.Redacted()
		assert.Equal(t, true, redacted["has_credentials"], destType)
		for _, v := range redacted {
			assert.NotEqual(t, "topsecret", v, destType)
		}
		assert.NotContains(t, dest.RepositoryAddress(), "topsecret")
	}
}

func TestS3_RepositoryLikelyExistsListsObjects(t *testing.T) {
	var requests atomic.Int32
	var keyCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		contents := ""
		if keyCount.Load() > 0 {
			contents = `<Contents><Key>nightly/config</Key><Size>155</Size></Contents>`
		}
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>panel</Name><Prefix>nightly/config</Prefix><KeyCount>%d</KeyCount><MaxKeys>1</MaxKeys><IsTruncated>false</IsTruncated>%s
</ListBucketResult>`, keyCount.Load(), contents)
	}))
	defer server.Close()

	cfg := map[string]string{
		"endpoint": server.URL, "bucket": "panel", "path": "nightly",
		"access_key": "AK", "secret_key": "SK", "region": "us-east-1",
	}
	dest, err := New(domain.DestinationS3, cfg, Options{CheckS3: true})
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, dest.RepositoryLikelyExists(ctx))

	keyCount.Store(1)
	assert.True(t, dest.RepositoryLikelyExists(ctx))
	assert.EqualValues(t, 2, requests.Load())
}

func TestS3_CheckDisabledOrUnreachableIsOptimistic(t *testing.T) {
	cfg := map[string]string{
		"endpoint": "http://127.0.0.1:1", "bucket": "panel",
		"access_key": "AK", "secret_key": "SK", "region": "us-east-1",
	}
	disabled, _ := New(domain.DestinationS3, cfg, Options{})
	assert.True(t, disabled.RepositoryLikelyExists(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	unreachable, _ := New(domain.DestinationS3, cfg, Options{CheckS3: true})
	assert.True(t, unreachable.RepositoryLikelyExists(ctx))
}

func TestOptimisticRemotes(t *testing.T) {
	ftp, _ := New(domain.DestinationFTP, map[string]string{"host": "h", "username": "u", "password": "p"}, Options{})
	b2, _ := New(domain.DestinationB2, map[string]string{"bucket": "b", "account_id": "i", "account_key": "k"}, Options{})

	assert.True(t, ftp.RepositoryLikelyExists(context.Background()))
	assert.True(t, b2.RepositoryLikelyExists(context.Background()))
	assert.NoError(t, ftp.EnsureRepositoryInitialized(context.Background(), "pw"))
}
