// Package tlsconf builds the client TLS configuration used for IMAP and SMTP connections.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// Client returns a tls.Config that verifies the server named in addr.
// When caFile is set, its PEM certificates replace the system roots.
func Client(addr, caFile string) (*tls.Config, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	if caFile != "" {
		pool, err := loadCAFile(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func loadCAFile(path string) (*x509.CertPool, error) {
	// Validate that the file exists before attempting to parse it
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("CA file not found: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("CA file %s contains no PEM certificates", path)
	}
	return pool, nil
}
