package certs

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/models"
)

const UnknownName = "Unknown"

var ErrParse = errors.New("certificate parse error")

// Input carries the metadata that Vault returns alongside the PEM body.
type Input struct {
	PEM            string
	SerialNumber   string
	IssuerID       string
	RevocationTime *time.Time
}

type Parser struct {
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Parser)

func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

func New(opts ...Option) *Parser {
	p := &Parser{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes a PEM certificate into a validated record. The serial number
// is always taken from the certificate itself.
func (p *Parser) Parse(in Input) (*models.Certificate, error) {
	x, err := Decode(in.PEM)
	if err != nil {
		return nil, err
	}

	subject := CommonName(x.Subject.Names)
	if subject == "" {
		p.logger.Warn("certificate has no subject common name", "serial", in.SerialNumber)
		subject = UnknownName
	}
	issuer := CommonName(x.Issuer.Names)
	if issuer == "" {
		p.logger.Warn("certificate has no issuer common name", "serial", in.SerialNumber)
		issuer = UnknownName
	}

	cert := &models.Certificate{
		SerialNumber:   FormatSerial(x.SerialNumber),
		SubjectCN:      subject,
		IssuerCN:       issuer,
		IssuerID:       in.IssuerID,
		NotBefore:      x.NotBefore.UTC(),
		NotAfter:       x.NotAfter.UTC(),
		IsExpired:      p.now().After(x.NotAfter),
		IsRevoked:      in.RevocationTime != nil,
		RevocationTime: in.RevocationTime,
		PEM:            in.PEM,
	}
	if err := cert.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return cert, nil
}

// SafeParse never fails. On error it returns a degraded record: names are
// "Unknown" and the validity window collapses to now, so the record reads as
// expired. The degraded record does not satisfy Certificate.Validate.
func (p *Parser) SafeParse(in Input) *models.Certificate {
	cert, err := p.Parse(in)
	if err == nil {
		return cert
	}
	p.logger.Warn("failed to parse certificate, using degraded record",
		"serial", in.SerialNumber,
		"error", err)

	serial := in.SerialNumber
	if serial == "" {
		serial = "N/A"
	}
	now := p.now().UTC()
	return &models.Certificate{
		SerialNumber:   serial,
		SubjectCN:      UnknownName,
		IssuerCN:       UnknownName,
		IssuerID:       in.IssuerID,
		NotBefore:      now,
		NotAfter:       now,
		IsExpired:      true,
		IsRevoked:      in.RevocationTime != nil,
		RevocationTime: in.RevocationTime,
		PEM:            in.PEM,
	}
}

// Decode returns the first CERTIFICATE block in data.
func Decode(data string) (*x509.Certificate, error) {
	rest := []byte(strings.TrimSpace(data))
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: empty certificate body", ErrParse)
	}
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM certificate block found", ErrParse)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		x, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return x, nil
	}
}

// FormatSerial renders n as lowercase hex byte pairs joined by colons.
func FormatSerial(n *big.Int) string {
	if n == nil {
		return ""
	}
	h := n.Text(16)
	if len(h)%2 == 1 {
		h = "0" + h
	}
	pairs := make([]string, 0, len(h)/2)
	for i := 0; i < len(h); i += 2 {
		pairs = append(pairs, h[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// ParseSerial is the inverse of FormatSerial. Both colon and dash separators
// are accepted.
func ParseSerial(s string) (*big.Int, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	n, ok := new(big.Int).SetString(clean, 16)
	if !ok || clean == "" {
		return nil, fmt.Errorf("invalid serial number %q", s)
	}
	return n, nil
}

// NormalizeSerial re-renders s in canonical form, or returns s unchanged if
// it is not hex.
func NormalizeSerial(s string) string {
	n, err := ParseSerial(s)
	if err != nil {
		return s
	}
	return FormatSerial(n)
}

// IsSelfSigned compares the encoded subject and issuer names. No signature
// check is made.
func IsSelfSigned(x *x509.Certificate) bool {
	return bytes.Equal(x.RawSubject, x.RawIssuer)
}

// IssuerFromChain returns the subject CN of the first certificate in chain.
func IssuerFromChain(chain []string) string {
	if len(chain) == 0 {
		return ""
	}
	return subjectCN(chain[0])
}

// RootFromChain returns the subject CN of the last certificate in chain.
func RootFromChain(chain []string) string {
	if len(chain) == 0 {
		return ""
	}
	return subjectCN(chain[len(chain)-1])
}

func subjectCN(data string) string {
	x, err := Decode(data)
	if err != nil {
		return ""
	}
	return CommonName(x.Subject.Names)
}
