package certs

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

var oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}

// CommonName returns the first CN attribute in names, or "" when absent.
func CommonName(names []pkix.AttributeTypeAndValue) string {
	for _, n := range names {
		if !n.Type.Equal(oidCommonName) {
			continue
		}
		if s, ok := n.Value.(string); ok {
			return s
		}
		return fmt.Sprint(n.Value)
	}
	return ""
}
