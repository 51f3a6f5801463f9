package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/models"
)

// Connector is the common surface of every backend client.
type Connector interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Validate tests the connection and credentials
	Validate(ctx context.Context) error

	// Close releases any resources held by the connector
	Close() error
}

// VaultConnector exposes the Vault PKI and sys endpoints the tools need.
type VaultConnector interface {
	Connector

	// ListPKIEngines returns every mounted secrets engine of type pki
	ListPKIEngines(ctx context.Context) ([]models.PKIEngine, error)

	// ListCertificateSerials lists <mount>/certs
	ListCertificateSerials(ctx context.Context, mount string) ([]string, error)

	// ReadCertificate reads <mount>/cert/<serial>
	ReadCertificate(ctx context.Context, mount, serial string) (*CertificateRecord, error)

	// ListIssuers lists <mount>/issuers
	ListIssuers(ctx context.Context, mount string) ([]string, error)

	// ReadIssuer reads <mount>/issuer/<id>
	ReadIssuer(ctx context.Context, mount, issuerID string) (*IssuerRecord, error)

	// DefaultIssuerID reads the default issuer from <mount>/config/issuers
	DefaultIssuerID(ctx context.Context, mount string) (string, error)

	// AuditHash hashes input with the HMAC key of an audit device
	AuditHash(ctx context.Context, device, input string) (string, error)
}

// LogsConnector exposes the log backend.
type LogsConnector interface {
	Connector

	// DescribeLogStreams returns up to limit streams, most recently active first
	DescribeLogStreams(ctx context.Context, logGroup string, limit int) ([]LogStream, error)

	// FilterLogEvents runs one page of a server-side filtered search
	FilterLogEvents(ctx context.Context, in FilterEventsInput) (*FilterEventsOutput, error)
}

type CertificateRecord struct {
	SerialNumber   string
	PEM            string
	IssuerID       string
	RevocationTime *time.Time
}

type IssuerRecord struct {
	ID      string
	Name    string
	PEM     string
	CAChain []string
}

type LogStream struct {
	Name               string
	LastEventTimestamp *time.Time
}

type FilterEventsInput struct {
	LogGroup      string
	LogStreams    []string
	FilterPattern string
	StartTime     *time.Time
	EndTime       *time.Time
	Limit         int
	NextToken     string
}

type FilterEventsOutput struct {
	Events    []models.RawLogEvent
	NextToken string
}

// ErrorKind classifies backend failures independently of the backend.
type ErrorKind string

const (
	KindConnection       ErrorKind = "connection"
	KindAuthentication   ErrorKind = "authentication"
	KindPermission       ErrorKind = "permission"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidParameter ErrorKind = "invalid_parameter"
	KindThrottled        ErrorKind = "throttled"
	KindDecode           ErrorKind = "decode"
	KindUnknown          ErrorKind = "unknown"
)

// Error wraps a backend failure with its kind and the resource involved.
type Error struct {
	Kind     ErrorKind
	Resource string
	Err      error
}

func NewError(kind ErrorKind, resource string, err error) *Error {
	return &Error{Kind: kind, Resource: resource, Err: err}
}

func (e *Error) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error on %s: %v", e.Kind, e.Resource, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsPermission(err error) bool {
	return KindOf(err) == KindPermission
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
