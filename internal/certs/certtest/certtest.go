// Package certtest builds throwaway certificate authorities for tests.
package certtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

var nextSerial atomic.Int64

func init() {
	nextSerial.Store(0x1000)
}

type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	PEM  string
}

// NewRoot creates a self-signed CA valid for ten years.
func NewRoot(t testing.TB, cn string) *Authority {
	t.Helper()
	return newAuthority(t, cn, nil)
}

// NewIntermediate creates a CA signed by a.
func (a *Authority) NewIntermediate(t testing.TB, cn string) *Authority {
	t.Helper()
	return newAuthority(t, cn, a)
}

// Issue signs a leaf certificate and returns it PEM-encoded.
func (a *Authority) Issue(t testing.TB, cn string, serial int64, notBefore, notAfter time.Time) string {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.Cert, &key.PublicKey, a.Key)
	if err != nil {
		t.Fatalf("issuing %s: %v", cn, err)
	}
	return encode(der)
}

// Chain returns the PEM chain from a up to its root, leaf first.
func Chain(authorities ...*Authority) []string {
	chain := make([]string, 0, len(authorities))
	for _, a := range authorities {
		chain = append(chain, a.PEM)
	}
	return chain
}

func newAuthority(t testing.TB, cn string, parent *Authority) *Authority {
	t.Helper()
	key := newKey(t)
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(nextSerial.Add(1)),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("creating CA %s: %v", cn, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing CA %s: %v", cn, err)
	}
	return &Authority{Cert: cert, Key: key, PEM: encode(der)}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func encode(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
