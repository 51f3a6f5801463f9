package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var serialPattern = regexp.MustCompile(`^([0-9a-f]{2}:)+[0-9a-f]{2}$`)

var (
	ErrInvalidSerial   = errors.New("serial number must be colon-separated lowercase hex pairs")
	ErrInvalidValidity = errors.New("not_after must be after not_before")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrEmptyHierarchy  = errors.New("hierarchy has certificates but neither root groups nor warnings")
)

type Certificate struct {
	SerialNumber   string     `json:"serial_number"`
	SubjectCN      string     `json:"subject_cn"`
	IssuerCN       string     `json:"issuer_cn"`
	IssuerID       string     `json:"issuer_id,omitempty"`
	NotBefore      time.Time  `json:"not_before"`
	NotAfter       time.Time  `json:"not_after"`
	IsExpired      bool       `json:"is_expired"`
	IsRevoked      bool       `json:"is_revoked"`
	RevocationTime *time.Time `json:"revocation_time,omitempty"`
	PEM            string     `json:"-"`
}

// Validate checks the serial format and the validity window.
func (c *Certificate) Validate() error {
	if !serialPattern.MatchString(c.SerialNumber) {
		return fmt.Errorf("%w: %q", ErrInvalidSerial, c.SerialNumber)
	}
	if !c.NotAfter.After(c.NotBefore) {
		return ErrInvalidValidity
	}
	return nil
}

// ValidSerial reports whether s is in canonical colon-hex form.
func ValidSerial(s string) bool {
	return serialPattern.MatchString(s)
}

type IssuerType string

const (
	IssuerTypeRoot         IssuerType = "root"
	IssuerTypeIntermediate IssuerType = "intermediate"
)

type Issuer struct {
	ID             string     `json:"issuer_id"`
	CommonName     string     `json:"common_name"`
	Type           IssuerType `json:"type"`
	ParentIssuerID string     `json:"parent_issuer_id,omitempty"`
	CAChain        []string   `json:"ca_chain"`
	IsActive       bool       `json:"is_active"`
	PEM            string     `json:"-"`
}

func (i *Issuer) Validate() error {
	if i.Type != IssuerTypeRoot && i.Type != IssuerTypeIntermediate {
		return fmt.Errorf("%w: type %q", ErrInvalidIssuer, i.Type)
	}
	if len(i.CAChain) == 0 {
		return fmt.Errorf("%w: empty ca_chain", ErrInvalidIssuer)
	}
	return nil
}

// WarningKind is a closed set; the zero value is not a valid kind.
type WarningKind int

const (
	WarningPermissionDenied WarningKind = iota + 1
	WarningParseError
	WarningMissingIssuer
	WarningInactiveIssuer
)

var warningKindNames = map[WarningKind]string{
	WarningPermissionDenied: "permission_denied",
	WarningParseError:       "parse_error",
	WarningMissingIssuer:    "missing_issuer",
	WarningInactiveIssuer:   "inactive_issuer",
}

func (k WarningKind) String() string {
	if name, ok := warningKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("WarningKind(%d)", int(k))
}

func (k WarningKind) Valid() bool {
	_, ok := warningKindNames[k]
	return ok
}

func (k WarningKind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid warning kind %d", int(k))
	}
	return json.Marshal(k.String())
}

func (k *WarningKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for kind, name := range warningKindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown warning kind %q", s)
}

type Warning struct {
	Kind     WarningKind `json:"type"`
	Resource string      `json:"resource"`
	Message  string      `json:"message"`
}

// NewWarning panics on a kind outside the closed set.
func NewWarning(kind WarningKind, resource, message string) Warning {
	if !kind.Valid() {
		panic(fmt.Sprintf("models: invalid warning kind %d", int(kind)))
	}
	return Warning{Kind: kind, Resource: resource, Message: message}
}

type HierarchyMetadata struct {
	TotalCertificates   int `json:"total_certificates"`
	ExpiredCount        int `json:"expired_count"`
	RevokedCount        int `json:"revoked_count"`
	RootCACount         int `json:"root_ca_count"`
	IntermediateCACount int `json:"intermediate_ca_count"`
}

type IntermediateIssuerGroup struct {
	IntermediateCN       string        `json:"intermediate_cn"`
	IntermediateIssuerID string        `json:"intermediate_issuer_id,omitempty"`
	Certificates         []Certificate `json:"certificates"`
}

type RootIssuerGroup struct {
	RootCN             string                    `json:"root_cn"`
	RootIssuerID       string                    `json:"root_issuer_id,omitempty"`
	IntermediateGroups []IntermediateIssuerGroup `json:"intermediate_groups"`
	DirectCertificates []Certificate             `json:"direct_certificates"`
}

type CertificateHierarchy struct {
	RootIssuers []RootIssuerGroup `json:"root_issuers"`
	Warnings    []Warning         `json:"warnings"`
	Metadata    HierarchyMetadata `json:"metadata"`
}

// Validate rejects a hierarchy holding certificates with no root groups and
// no warnings. The empty hierarchy is valid.
func (h *CertificateHierarchy) Validate() error {
	if len(h.RootIssuers) == 0 && len(h.Warnings) == 0 && h.Metadata.TotalCertificates > 0 {
		return ErrEmptyHierarchy
	}
	return nil
}

type PKIEngine struct {
	Path        string         `json:"path"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

// NewPKIEngine strips the trailing slash from path and rejects non-pki types.
func NewPKIEngine(path, engineType, description string, config map[string]any) (PKIEngine, error) {
	if engineType != "pki" {
		return PKIEngine{}, fmt.Errorf("engine %q has type %q, not pki", path, engineType)
	}
	if config == nil {
		config = map[string]any{}
	}
	return PKIEngine{
		Path:        strings.TrimSuffix(path, "/"),
		Type:        engineType,
		Description: description,
		Config:      config,
	}, nil
}

// CertificateSummary is one row of the flat list_certificates view.
type CertificateSummary struct {
	SerialNumber string    `json:"serial_number"`
	SubjectCN    string    `json:"subject_cn"`
	Expired      string    `json:"expired"`
	Revoked      string    `json:"revoked"`
	ExpiringIn   *string   `json:"expiring_in"`
	Issuers      []string  `json:"issuers"`
	NotAfter     time.Time `json:"-"`
}

type ListMetadata struct {
	TotalCertificates int `json:"total_certificates"`
	ExpiredCount      int `json:"expired_count"`
	RevokedCount      int `json:"revoked_count"`
}

type CertificateList struct {
	Certificates []CertificateSummary `json:"certificates"`
	Warnings     []Warning            `json:"warnings"`
	Metadata     ListMetadata         `json:"metadata"`
}

func YesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
