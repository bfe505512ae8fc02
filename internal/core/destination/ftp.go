package destination

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

// rcloneRemote names the on-the-fly rclone remote defined through environment
// variables, so the repository address never carries credentials.
const rcloneRemote = "VSISPANELFTP"

type FTP struct {
	Protocol string // ftp or sftp
	Host     string
	Port     string
	Username string
	Password string
	Path     string
}

func newFTP(config map[string]string) *FTP {
	protocol := strings.ToLower(config["protocol"])
	if protocol == "" {
		protocol = "ftp"
	}
	return &FTP{
		Protocol: protocol,
		Host:     config["host"],
		Port:     config["port"],
		Username: config["username"],
		Password: config["password"],
		Path:     strings.TrimSuffix(config["path"], "/"),
	}
}

func (d *FTP) Type() domain.DestinationType { return domain.DestinationFTP }

func (d *FTP) RepositoryAddress() string {
	return fmt.Sprintf("rclone:%s:%s", strings.ToLower(rcloneRemote), d.Path)
}

func (d *FTP) CredentialEnvironment() map[string]string {
	prefix := "RCLONE_CONFIG_" + rcloneRemote + "_"
	return map[string]string{
		prefix + "TYPE": d.Protocol,
		prefix + "HOST": d.Host,
		prefix + "PORT": strconv.Itoa(d.port()),
		prefix + "USER": d.Username,
		prefix + "PASS": d.Password,
	}
}

func (d *FTP) Validate() error {
	if d.Protocol != "ftp" && d.Protocol != "sftp" {
		return fmt.Errorf("%w: ftp protocol must be ftp or sftp, got %q", ErrInvalidConfig, d.Protocol)
	}
	if err := requireFields(domain.DestinationFTP, map[string]string{
		"host":     d.Host,
		"username": d.Username,
		"password": d.Password,
	}, "host", "username", "password"); err != nil {
		return err
	}
	if d.Port != "" {
		port, err := strconv.Atoi(d.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: ftp port must be between 1 and 65535, got %q", ErrInvalidConfig, d.Port)
		}
	}
	return nil
}

func (d *FTP) EnsureRepositoryInitialized(_ context.Context, _ string) error {
	return d.Validate()
}

// RepositoryLikelyExists is optimistic: there is no FTP client in this
// service, and the engine reports a missing repository on first use.
func (d *FTP) RepositoryLikelyExists(_ context.Context) bool { return true }

func (d *FTP) port() int {
	if port, err := strconv.Atoi(d.Port); err == nil {
		return port
	}
	if d.Protocol == "sftp" {
		return 22
	}
	return 21
}

func (d *FTP) Redacted() map[string]any {
	return map[string]any{
		"type":            string(domain.DestinationFTP),
		"protocol":        d.Protocol,
		"host":            d.Host,
		"port":            d.port(),
		"path":            d.Path,
		"has_credentials": d.Username != "" && d.Password != "",
	}
}
