package handshake

import (
	"crypto/x509"
	"fmt"
)

// A CertificateValidator validates the certificate chain presented by the server.
// The chain is DER encoded, leaf first.
type CertificateValidator interface {
	Validate(chain [][]byte) error
}

// NoopCertificateValidator accepts any certificate chain. For testing.
type NoopCertificateValidator struct{}

// Validate accepts the chain
func (NoopCertificateValidator) Validate([][]byte) error { return nil }

// X509CertificateValidator verifies the chain against a set of roots,
// optionally checking the leaf's DNS name.
type X509CertificateValidator struct {
	Roots      *x509.CertPool
	ServerName string
}

// Validate verifies the chain
func (v *X509CertificateValidator) Validate(chain [][]byte) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty certificate chain")
	}
	certs := make([]*x509.Certificate, 0, len(chain))
	for _, der := range chain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: intermediates,
		DNSName:       v.ServerName,
	})
	return err
}
