package hierarchy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/certs"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

// List builds the flat certificate view served by list_certificates. Each
// row carries the names of its issuing CA and, when known, that CA's root.
func (b *Builder) List(ctx context.Context, mount string) (*models.CertificateList, error) {
	serials, err := b.vault.ListCertificateSerials(ctx, mount)
	if err != nil {
		return nil, fmt.Errorf("listing certificates on %s: %w", mount, err)
	}
	list := &models.CertificateList{
		Certificates: []models.CertificateSummary{},
		Warnings:     []models.Warning{},
	}
	if len(serials) == 0 {
		return list, nil
	}

	issuers, warnings, err := b.fetchIssuers(ctx, mount)
	if err != nil {
		return nil, fmt.Errorf("fetching issuers on %s: %w", mount, err)
	}
	certificates, certWarnings, err := b.fetchCertificates(ctx, mount, serials)
	if err != nil {
		return nil, fmt.Errorf("fetching certificates on %s: %w", mount, err)
	}
	warnings = append(warnings, certWarnings...)

	defaultIssuer := sync.OnceValue(func() string {
		id, err := b.vault.DefaultIssuerID(ctx, mount)
		if err != nil {
			b.logger.Warn("reading default issuer failed", "mount", mount, "error", err)
			return ""
		}
		return id
	})
	chains := newChainResolver(issuers)

	now := b.now()
	for _, c := range certificates {
		issuerID := c.IssuerID
		if issuerID == "" {
			issuerID = defaultIssuer()
		}
		summary := models.CertificateSummary{
			SerialNumber: c.SerialNumber,
			SubjectCN:    c.SubjectCN,
			Expired:      models.YesNo(c.IsExpired),
			Revoked:      models.YesNo(c.IsRevoked),
			Issuers:      chains.resolve(issuerID),
			NotAfter:     c.NotAfter,
		}
		if !c.IsExpired {
			s := ExpiringIn(c.NotAfter, now)
			summary.ExpiringIn = &s
		}
		list.Certificates = append(list.Certificates, summary)
		if c.IsExpired {
			list.Metadata.ExpiredCount++
		}
		if c.IsRevoked {
			list.Metadata.RevokedCount++
		}
	}
	list.Metadata.TotalCertificates = len(list.Certificates)
	list.Warnings = nonNil(warnings)
	recordWarnings(list.Warnings)
	return list, nil
}

// ExpiringIn renders the time left before notAfter: whole days when at least
// one day remains, hours and minutes otherwise.
func ExpiringIn(notAfter, now time.Time) string {
	const day = 24 * time.Hour
	left := notAfter.Sub(now)
	if left < 0 {
		left = 0
	}
	if left >= day {
		days := int(left / day)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return fmt.Sprintf("%dh %dm", int(left/time.Hour), int(left%time.Hour/time.Minute))
}

type chainResolver struct {
	byID      map[string]models.Issuer
	rootCN    map[string]string
	firstRoot string
}

func newChainResolver(issuers []models.Issuer) *chainResolver {
	r := &chainResolver{
		byID:   make(map[string]models.Issuer, len(issuers)),
		rootCN: make(map[string]string, len(issuers)),
	}
	for _, iss := range issuers {
		r.byID[iss.ID] = iss
		if len(iss.CAChain) > 1 {
			r.rootCN[iss.ID] = certs.RootFromChain(iss.CAChain)
		}
		if r.firstRoot == "" && iss.Type == models.IssuerTypeRoot {
			r.firstRoot = iss.CommonName
		}
	}
	return r
}

// resolve returns the issuer CN followed by its root CN when they differ.
// Without a usable ca_chain, a non-root issuer falls back to the first root
// of the mount.
func (r *chainResolver) resolve(issuerID string) []string {
	iss, ok := r.byID[issuerID]
	if issuerID == "" || !ok {
		return []string{}
	}
	names := []string{iss.CommonName}
	if len(iss.CAChain) > 1 {
		if root := r.rootCN[issuerID]; root != "" && root != iss.CommonName {
			names = append(names, root)
		}
		return names
	}
	if iss.Type != models.IssuerTypeRoot && r.firstRoot != "" && r.firstRoot != iss.CommonName {
		names = append(names, r.firstRoot)
	}
	return names
}
