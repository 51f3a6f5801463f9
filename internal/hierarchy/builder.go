// Package hierarchy reconstructs the issuing structure of a Vault PKI mount
// from its flat certificate and issuer listings.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/certs"
	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/metrics"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

const (
	DefaultCertificateConcurrency = 10
	DefaultIssuerConcurrency      = 5

	// UnknownRootCN names the synthetic group holding certificates whose
	// issuer matches no known CA.
	UnknownRootCN = "Unknown Root"
)

type Builder struct {
	vault             connectors.VaultConnector
	certConcurrency   int
	issuerConcurrency int
	now               func() time.Time
	logger            *slog.Logger
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithConcurrency bounds in-flight certificate and issuer reads. Values
// below one keep the defaults.
func WithConcurrency(certificates, issuers int) Option {
	return func(b *Builder) {
		if certificates > 0 {
			b.certConcurrency = certificates
		}
		if issuers > 0 {
			b.issuerConcurrency = issuers
		}
	}
}

func NewBuilder(vault connectors.VaultConnector, opts ...Option) *Builder {
	b := &Builder{
		vault:             vault,
		certConcurrency:   DefaultCertificateConcurrency,
		issuerConcurrency: DefaultIssuerConcurrency,
		now:               time.Now,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build lists, fetches and groups every certificate of mount. Only a failure
// to list the mount's certificates is returned as an error; per-item
// failures are reported as warnings on the result.
func (b *Builder) Build(ctx context.Context, mount string) (*models.CertificateHierarchy, error) {
	serials, err := b.vault.ListCertificateSerials(ctx, mount)
	if err != nil {
		return nil, fmt.Errorf("listing certificates on %s: %w", mount, err)
	}
	if len(serials) == 0 {
		return &models.CertificateHierarchy{
			RootIssuers: []models.RootIssuerGroup{},
			Warnings:    []models.Warning{},
		}, nil
	}

	certificates, warnings, err := b.fetchCertificates(ctx, mount, serials)
	if err != nil {
		return nil, fmt.Errorf("fetching certificates on %s: %w", mount, err)
	}
	issuers, issuerWarnings, err := b.fetchIssuers(ctx, mount)
	if err != nil {
		return nil, fmt.Errorf("fetching issuers on %s: %w", mount, err)
	}
	warnings = append(warnings, issuerWarnings...)

	roots, organizeWarnings := organize(certificates, issuers)
	warnings = append(warnings, organizeWarnings...)

	h := &models.CertificateHierarchy{
		RootIssuers: roots,
		Warnings:    nonNil(warnings),
		Metadata:    hierarchyMetadata(certificates, issuers),
	}
	if err := h.Validate(); err != nil {
		b.logger.Warn("hierarchy incomplete", "mount", mount, "error", err)
		h.Warnings = append(h.Warnings, models.NewWarning(models.WarningParseError, mount,
			fmt.Sprintf("Failed to organize certificates: %v", err)))
	}
	recordWarnings(h.Warnings)
	return h, nil
}

// organize groups certificates by issuer common name. Intermediate groups
// are all attached to the first root because no chain-based parent
// resolution is done here; consumers rely on that shape. A mount holding
// intermediates but no root gets a root group named from the first
// intermediate's CA chain.
func organize(certificates []models.Certificate, issuers []models.Issuer) ([]models.RootIssuerGroup, []models.Warning) {
	byIssuerCN := make(map[string][]models.Certificate)
	var issuerOrder []string
	for _, c := range certificates {
		if _, seen := byIssuerCN[c.IssuerCN]; !seen {
			issuerOrder = append(issuerOrder, c.IssuerCN)
		}
		byIssuerCN[c.IssuerCN] = append(byIssuerCN[c.IssuerCN], c)
	}

	type ca struct {
		cn    string
		id    string
		chain []string
	}
	var roots, intermediates []ca
	known := make(map[string]bool)
	add := func(list *[]ca, cn, id string, chain []string) {
		if known[cn] {
			return
		}
		known[cn] = true
		*list = append(*list, ca{cn: cn, id: id, chain: chain})
	}

	for _, iss := range issuers {
		if iss.Type == models.IssuerTypeRoot {
			add(&roots, iss.CommonName, iss.ID, iss.CAChain)
		}
	}
	for _, iss := range issuers {
		if iss.Type == models.IssuerTypeIntermediate {
			add(&intermediates, iss.CommonName, iss.ID, iss.CAChain)
		}
	}

	if len(issuers) == 0 {
		for _, cn := range issuerOrder {
			for _, c := range byIssuerCN[cn] {
				if c.SubjectCN == c.IssuerCN {
					add(&roots, cn, "", nil)
					break
				}
			}
		}
	}

	var warnings []models.Warning
	if len(roots) == 0 && len(intermediates) > 0 {
		first := intermediates[0]
		cn := certs.RootFromChain(first.chain)
		if cn == "" || known[cn] {
			cn = UnknownRootCN
			warnings = append(warnings, models.NewWarning(models.WarningMissingIssuer, first.cn,
				fmt.Sprintf("Root issuer of intermediate '%s' could not be resolved", first.cn)))
		}
		add(&roots, cn, "", nil)
	}

	groups := make([]models.RootIssuerGroup, 0, len(roots)+1)
	for i, root := range roots {
		group := models.RootIssuerGroup{
			RootCN:             root.cn,
			RootIssuerID:       root.id,
			IntermediateGroups: []models.IntermediateIssuerGroup{},
			DirectCertificates: nonNil(byIssuerCN[root.cn]),
		}
		if i == 0 {
			for _, inter := range intermediates {
				members := byIssuerCN[inter.cn]
				if len(members) == 0 {
					continue
				}
				group.IntermediateGroups = append(group.IntermediateGroups, models.IntermediateIssuerGroup{
					IntermediateCN:       inter.cn,
					IntermediateIssuerID: inter.id,
					Certificates:         members,
				})
			}
		}
		groups = append(groups, group)
	}

	var orphans []models.Certificate
	for _, cn := range issuerOrder {
		if !known[cn] {
			orphans = append(orphans, byIssuerCN[cn]...)
		}
	}
	if len(orphans) == 0 {
		return groups, warnings
	}

	if i := len(groups) - 1; i >= 0 && groups[i].RootCN == UnknownRootCN {
		groups[i].DirectCertificates = append(groups[i].DirectCertificates, orphans...)
	} else {
		groups = append(groups, models.RootIssuerGroup{
			RootCN:             UnknownRootCN,
			IntermediateGroups: []models.IntermediateIssuerGroup{},
			DirectCertificates: orphans,
		})
	}
	warnings = append(warnings, models.NewWarning(models.WarningMissingIssuer, "certificates",
		fmt.Sprintf("Found %d certificates with unresolvable issuers", len(orphans))))
	return groups, warnings
}

func hierarchyMetadata(certificates []models.Certificate, issuers []models.Issuer) models.HierarchyMetadata {
	m := models.HierarchyMetadata{TotalCertificates: len(certificates)}
	for _, c := range certificates {
		if c.IsExpired {
			m.ExpiredCount++
		}
		if c.IsRevoked {
			m.RevokedCount++
		}
	}
	for _, iss := range issuers {
		switch iss.Type {
		case models.IssuerTypeRoot:
			m.RootCACount++
		case models.IssuerTypeIntermediate:
			m.IntermediateCACount++
		}
	}
	return m
}

func recordWarnings(warnings []models.Warning) {
	for _, w := range warnings {
		metrics.WarningsTotal.WithLabelValues(w.Kind.String()).Inc()
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
