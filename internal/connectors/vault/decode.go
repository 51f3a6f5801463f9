package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

// decodeMounts accepts the sys/mounts payload with or without the legacy
// "data" wrapper. Entries that are not objects are skipped.
func decodeMounts(data map[string]any, logger *slog.Logger) ([]models.PKIEngine, error) {
	if data == nil {
		return nil, connectors.NewError(connectors.KindDecode, "sys/mounts", errors.New("empty mounts payload"))
	}
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}

	paths := make([]string, 0, len(data))
	for p := range data {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	engines := []models.PKIEngine{}
	for _, p := range paths {
		entry, ok := data[p].(map[string]any)
		if !ok {
			continue
		}
		engineType, _ := entry["type"].(string)
		if engineType != "pki" {
			continue
		}
		description, _ := entry["description"].(string)
		config, _ := entry["config"].(map[string]any)
		engine, err := models.NewPKIEngine(p, engineType, description, config)
		if err != nil {
			logger.Warn("skipping mount", "path", p, "error", err)
			continue
		}
		engines = append(engines, engine)
	}
	return engines, nil
}

func decodeKeys(path string, data map[string]any) ([]string, error) {
	raw, ok := data["keys"]
	if !ok || raw == nil {
		return []string{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, connectors.NewError(connectors.KindDecode, path, fmt.Errorf("keys has type %T", raw))
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

func decodeCertificate(serial string, data map[string]any) (*connectors.CertificateRecord, error) {
	rec := &connectors.CertificateRecord{SerialNumber: serial}
	rec.PEM, _ = data["certificate"].(string)
	rec.IssuerID, _ = data["issuer_id"].(string)

	if secs, ok := toInt64(data["revocation_time"]); ok && secs > 0 {
		t := time.Unix(secs, 0).UTC()
		rec.RevocationTime = &t
	}
	return rec, nil
}

func decodeIssuer(id string, data map[string]any) (*connectors.IssuerRecord, error) {
	rec := &connectors.IssuerRecord{ID: id}
	if v, ok := data["issuer_id"].(string); ok && v != "" {
		rec.ID = v
	}
	rec.Name, _ = data["issuer_name"].(string)
	rec.PEM, _ = data["certificate"].(string)

	switch chain := data["ca_chain"].(type) {
	case []any:
		for _, c := range chain {
			if s, ok := c.(string); ok && s != "" {
				rec.CAChain = append(rec.CAChain, s)
			}
		}
	case nil:
	default:
		return nil, connectors.NewError(connectors.KindDecode, "issuer/"+id, fmt.Errorf("ca_chain has type %T", chain))
	}
	if len(rec.CAChain) == 0 && rec.PEM != "" {
		rec.CAChain = []string{rec.PEM}
	}
	return rec, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return int64(f), err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
