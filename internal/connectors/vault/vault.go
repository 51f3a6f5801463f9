package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/metrics"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

const backendName = "vault"

type Config struct {
	Address    string
	Token      string
	Namespace  string
	SkipVerify bool
	Timeout    time.Duration
}

type Connector struct {
	client *vaultapi.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("vault address is required")
	}

	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.Address
	vcfg.MaxRetries = 0
	if cfg.Timeout > 0 {
		vcfg.Timeout = cfg.Timeout
	}
	if cfg.SkipVerify {
		if err := vcfg.ConfigureTLS(&vaultapi.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("configuring vault TLS: %w", err)
		}
	}

	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &Connector{client: client, logger: logger}, nil
}

func (c *Connector) Name() string {
	return backendName
}

// Validate looks up the configured token. A rejected token is an
// authentication error regardless of the status code Vault uses.
func (c *Connector) Validate(ctx context.Context) error {
	_, err := c.client.Auth().Token().LookupSelfWithContext(ctx)
	metrics.ObserveBackendCall(backendName, "lookup_self", err)
	if err != nil {
		cerr := classify(err, "auth/token/lookup-self")
		if k := connectors.KindOf(cerr); k == connectors.KindPermission || k == connectors.KindAuthentication {
			return connectors.NewError(connectors.KindAuthentication, "auth/token/lookup-self", err)
		}
		return cerr
	}
	return nil
}

func (c *Connector) Close() error {
	return nil
}

func (c *Connector) ListPKIEngines(ctx context.Context) ([]models.PKIEngine, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, "sys/mounts")
	metrics.ObserveBackendCall(backendName, "list_mounts", err)
	if err != nil {
		return nil, classify(err, "sys/mounts")
	}
	if secret == nil {
		return []models.PKIEngine{}, nil
	}
	return decodeMounts(secret.Data, c.logger)
}

func (c *Connector) ListCertificateSerials(ctx context.Context, mount string) ([]string, error) {
	return c.list(ctx, "list_certificates", mount+"/certs")
}

func (c *Connector) ReadCertificate(ctx context.Context, mount, serial string) (*connectors.CertificateRecord, error) {
	path := mount + "/cert/" + serial
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	metrics.ObserveBackendCall(backendName, "read_certificate", err)
	if err != nil {
		return nil, classify(err, path)
	}
	if secret == nil {
		return nil, connectors.NewError(connectors.KindNotFound, path, errors.New("certificate not found"))
	}
	return decodeCertificate(serial, secret.Data)
}

func (c *Connector) ListIssuers(ctx context.Context, mount string) ([]string, error) {
	return c.list(ctx, "list_issuers", mount+"/issuers")
}

func (c *Connector) ReadIssuer(ctx context.Context, mount, issuerID string) (*connectors.IssuerRecord, error) {
	path := mount + "/issuer/" + issuerID
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	metrics.ObserveBackendCall(backendName, "read_issuer", err)
	if err != nil {
		return nil, classify(err, path)
	}
	if secret == nil {
		return nil, connectors.NewError(connectors.KindNotFound, path, errors.New("issuer not found"))
	}
	return decodeIssuer(issuerID, secret.Data)
}

func (c *Connector) DefaultIssuerID(ctx context.Context, mount string) (string, error) {
	path := mount + "/config/issuers"
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	metrics.ObserveBackendCall(backendName, "read_issuer_config", err)
	if err != nil {
		return "", classify(err, path)
	}
	if secret == nil {
		return "", nil
	}
	id, _ := secret.Data["default"].(string)
	return id, nil
}

func (c *Connector) AuditHash(ctx context.Context, device, input string) (string, error) {
	path := "sys/audit-hash/" + strings.Trim(device, "/")
	secret, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"input": input,
	})
	metrics.ObserveBackendCall(backendName, "audit_hash", err)
	if err != nil {
		return "", classify(err, path)
	}
	if secret == nil {
		return "", connectors.NewError(connectors.KindDecode, path, errors.New("empty audit-hash response"))
	}
	hash, ok := secret.Data["hash"].(string)
	if !ok || hash == "" {
		return "", connectors.NewError(connectors.KindDecode, path, errors.New("audit-hash response has no hash"))
	}
	return hash, nil
}

// list returns an empty slice when Vault reports no entries.
func (c *Connector) list(ctx context.Context, operation, path string) ([]string, error) {
	secret, err := c.client.Logical().ListWithContext(ctx, path)
	metrics.ObserveBackendCall(backendName, operation, err)
	if err != nil {
		return nil, classify(err, path)
	}
	if secret == nil {
		return []string{}, nil
	}
	return decodeKeys(path, secret.Data)
}

func classify(err error, resource string) error {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 401:
			return connectors.NewError(connectors.KindAuthentication, resource, err)
		case 403:
			return connectors.NewError(connectors.KindPermission, resource, err)
		case 404:
			return connectors.NewError(connectors.KindNotFound, resource, err)
		case 400:
			return connectors.NewError(connectors.KindInvalidParameter, resource, err)
		case 429:
			return connectors.NewError(connectors.KindThrottled, resource, err)
		}
		return connectors.NewError(connectors.KindUnknown, resource, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return connectors.NewError(connectors.KindConnection, resource, err)
	}
	return connectors.NewError(connectors.KindUnknown, resource, err)
}
