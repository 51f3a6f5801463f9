package hierarchy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pkiaudit/vaultmcp/internal/certs"
	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

// fetchResult holds one slot of a fan-out so output order follows input order.
type fetchResult[T any] struct {
	item    *T
	warning *models.Warning
}

// fanOut runs fn for every input with at most limit calls in flight. Every
// task runs to completion; only cancellation of ctx aborts the fan-out.
func fanOut[In, Out any](ctx context.Context, limit int, inputs []In, fn func(context.Context, In) fetchResult[Out]) ([]Out, []models.Warning, error) {
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))
	results := make([]fetchResult[Out], len(inputs))

	var wg sync.WaitGroup
	var acquireErr error
	for i, in := range inputs {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}
		wg.Add(1)
		go func(i int, in In) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = fn(ctx, in)
		}(i, in)
	}
	wg.Wait()
	if acquireErr != nil {
		return nil, nil, acquireErr
	}

	items := make([]Out, 0, len(inputs))
	var warnings []models.Warning
	for _, r := range results {
		if r.item != nil {
			items = append(items, *r.item)
		}
		if r.warning != nil {
			warnings = append(warnings, *r.warning)
		}
	}
	return items, warnings, nil
}

func (b *Builder) fetchCertificates(ctx context.Context, mount string, serials []string) ([]models.Certificate, []models.Warning, error) {
	b.logger.Info("fetching certificates", "mount", mount, "count", len(serials))

	parser := certs.New(certs.WithClock(b.now), certs.WithLogger(b.logger))
	fetch := func(ctx context.Context, serial string) fetchResult[models.Certificate] {
		resource := mount + "/cert/" + serial
		rec, err := b.vault.ReadCertificate(ctx, mount, serial)
		if err != nil {
			return fetchResult[models.Certificate]{warning: itemWarning(resource, "certificate", err)}
		}
		if strings.TrimSpace(rec.PEM) == "" {
			w := models.NewWarning(models.WarningParseError, resource, "Certificate PEM data missing from response")
			return fetchResult[models.Certificate]{warning: &w}
		}
		cert, err := parser.Parse(certs.Input{
			PEM:            rec.PEM,
			SerialNumber:   serial,
			IssuerID:       rec.IssuerID,
			RevocationTime: rec.RevocationTime,
		})
		if err != nil {
			b.logger.Warn("certificate parse failed", "resource", resource, "error", err)
			w := models.NewWarning(models.WarningParseError, resource, fmt.Sprintf("Error parsing certificate: %v", err))
			return fetchResult[models.Certificate]{warning: &w}
		}
		return fetchResult[models.Certificate]{item: cert}
	}

	found, warnings, err := fanOut(ctx, b.certConcurrency, serials, fetch)
	if err != nil {
		return nil, nil, err
	}
	b.logger.Info("fetched certificates", "mount", mount, "ok", len(found), "failed", len(warnings))
	return found, warnings, nil
}

// fetchIssuers never fails the build. A failure to list issuers becomes a
// warning and the build continues with no issuer metadata.
func (b *Builder) fetchIssuers(ctx context.Context, mount string) ([]models.Issuer, []models.Warning, error) {
	ids, err := b.vault.ListIssuers(ctx, mount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, []models.Warning{*itemWarning(mount+"/issuers", "issuers", err)}, nil
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	fetch := func(ctx context.Context, id string) fetchResult[models.Issuer] {
		resource := mount + "/issuer/" + id
		rec, err := b.vault.ReadIssuer(ctx, mount, id)
		if err != nil {
			return fetchResult[models.Issuer]{warning: itemWarning(resource, "issuer", err)}
		}
		if strings.TrimSpace(rec.PEM) == "" {
			w := models.NewWarning(models.WarningParseError, resource, "Issuer certificate data missing")
			return fetchResult[models.Issuer]{warning: &w}
		}
		x, err := certs.Decode(rec.PEM)
		if err != nil {
			w := models.NewWarning(models.WarningParseError, resource, fmt.Sprintf("Error parsing issuer: %v", err))
			return fetchResult[models.Issuer]{warning: &w}
		}

		cn := certs.CommonName(x.Subject.Names)
		if cn == "" {
			cn = certs.UnknownName
		}
		issuerType := models.IssuerTypeIntermediate
		if certs.IsSelfSigned(x) {
			issuerType = models.IssuerTypeRoot
		}
		return fetchResult[models.Issuer]{item: &models.Issuer{
			ID:         rec.ID,
			CommonName: cn,
			Type:       issuerType,
			CAChain:    rec.CAChain,
			IsActive:   true,
			PEM:        rec.PEM,
		}}
	}

	issuers, warnings, err := fanOut(ctx, b.issuerConcurrency, ids, fetch)
	if err != nil {
		return nil, nil, err
	}
	linkParents(issuers)
	b.logger.Info("fetched issuers", "mount", mount, "ok", len(issuers), "failed", len(warnings))
	return issuers, warnings, nil
}

// linkParents sets ParentIssuerID on intermediates whose ca_chain names
// another issuer of the same mount as the next certificate up.
func linkParents(issuers []models.Issuer) {
	byPEM := make(map[string]string, len(issuers))
	for _, iss := range issuers {
		byPEM[strings.TrimSpace(iss.PEM)] = iss.ID
	}
	for i := range issuers {
		iss := &issuers[i]
		if iss.Type != models.IssuerTypeIntermediate || len(iss.CAChain) < 2 {
			continue
		}
		if parent, ok := byPEM[strings.TrimSpace(iss.CAChain[1])]; ok && parent != iss.ID {
			iss.ParentIssuerID = parent
		}
	}
}

// itemWarning degrades a per-item backend failure. Permission errors keep
// their own kind; everything else is reported as a read/parse failure.
func itemWarning(resource, what string, err error) *models.Warning {
	var w models.Warning
	if connectors.IsPermission(err) {
		w = models.NewWarning(models.WarningPermissionDenied, resource, fmt.Sprintf("Permission denied reading %s: %v", what, err))
	} else {
		w = models.NewWarning(models.WarningParseError, resource, fmt.Sprintf("Error reading %s: %v", what, err))
	}
	return &w
}
