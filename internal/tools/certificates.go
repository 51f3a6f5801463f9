package tools

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

var mountPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ListPKIEngines returns every pki secrets engine mounted in Vault.
func (s *Service) ListPKIEngines(ctx context.Context) ([]models.PKIEngine, error) {
	if err := s.vault.Validate(ctx); err != nil {
		return nil, vaultError(err, nil)
	}
	engines, err := s.vault.ListPKIEngines(ctx)
	if err != nil {
		return nil, vaultError(err, map[string]any{"path": "sys/mounts"})
	}
	return engines, nil
}

// ListCertificates validates mount and returns its flat certificate list.
func (s *Service) ListCertificates(ctx context.Context, mount string) (*models.CertificateList, error) {
	details, err := s.prepareMount(ctx, mount)
	if err != nil {
		return nil, err
	}
	list, err := s.builder.List(ctx, mount)
	if err != nil {
		return nil, vaultError(err, details)
	}
	return list, nil
}

// CertificateHierarchy validates mount and returns its certificates grouped
// under their root and intermediate issuers.
func (s *Service) CertificateHierarchy(ctx context.Context, mount string) (*models.CertificateHierarchy, error) {
	details, err := s.prepareMount(ctx, mount)
	if err != nil {
		return nil, err
	}
	h, err := s.builder.Build(ctx, mount)
	if err != nil {
		return nil, vaultError(err, details)
	}
	return h, nil
}

// prepareMount checks the mount name, Vault reachability and the mount type.
func (s *Service) prepareMount(ctx context.Context, mount string) (map[string]any, error) {
	details := map[string]any{"mount_path": mount}
	if mount == "" {
		return nil, models.NewToolError(models.CodeInvalidParameters, "PKI mount path cannot be empty", details)
	}
	if !mountPattern.MatchString(mount) {
		return nil, models.NewToolError(models.CodeInvalidParameters,
			"Mount path contains invalid characters. Use alphanumeric characters, underscores, and hyphens only.", details)
	}

	if err := s.vault.Validate(ctx); err != nil {
		return nil, vaultError(err, details)
	}
	if err := s.checkMount(ctx, mount); err != nil {
		return nil, err
	}
	return details, nil
}

// checkMount confirms mount is a pki engine. A token that may not read
// sys/mounts can still hold rights on the mount itself, so a permission
// error skips the check.
func (s *Service) checkMount(ctx context.Context, mount string) error {
	engines, err := s.vault.ListPKIEngines(ctx)
	if err != nil {
		if connectors.IsPermission(err) {
			s.logger.Debug("cannot list mounts, skipping mount check", "mount", mount)
			return nil
		}
		return vaultError(err, map[string]any{"mount_path": mount})
	}

	available := make([]string, 0, len(engines))
	for _, e := range engines {
		if e.Path == mount {
			return nil
		}
		available = append(available, e.Path)
	}
	return models.NewToolError(models.CodePKIPathNotFound,
		"PKI mount '"+mount+"' not found or not accessible. Ensure the mount exists and is of type 'pki'.",
		map[string]any{"mount_path": mount, "available_pki_mounts": available})
}

type listCertificatesArgs struct {
	PKIMountPath string `json:"pki_mount_path"`
}

func callListCertificates(ctx context.Context, s *Service, args json.RawMessage) (any, error) {
	var in listCertificatesArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	list, err := s.ListCertificates(ctx, in.PKIMountPath)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func callCertificateHierarchy(ctx context.Context, s *Service, args json.RawMessage) (any, error) {
	var in listCertificatesArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	h, err := s.CertificateHierarchy(ctx, in.PKIMountPath)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func callListPKIEngines(ctx context.Context, s *Service, _ json.RawMessage) (any, error) {
	engines, err := s.ListPKIEngines(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pki_engines": engines}, nil
}
