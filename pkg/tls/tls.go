// Package tls builds mutual TLS configurations for the Shedcast HTTP and
// gRPC listeners and for clients that talk to them.
//
// All configurations enforce TLS 1.3 and verify the peer certificate against
// the configured CA. Servers require client certificates.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// Config holds certificate file paths (PEM) for a client or a server.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// Validate reports missing or unreadable files when TLS is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	files := []struct{ name, path string }{
		{"certificate", c.CertFile},
		{"key", c.KeyFile},
		{"CA certificate", c.CAFile},
	}
	for _, f := range files {
		if f.path == "" {
			return fmt.Errorf("tls enabled but %s file not specified", f.name)
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("tls %s file %q: %w", f.name, f.path, err)
		}
	}
	return nil
}

// ServerConfig returns the listener configuration, or nil when disabled.
func (c Config) ServerConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cert, pool, err := c.load()
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns the dialer configuration, or nil when disabled.
func (c Config) ClientConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cert, pool, err := c.load()
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ServerCredentials wraps ServerConfig for grpc.Creds. It returns nil when
// TLS is disabled.
func (c Config) ServerCredentials() (credentials.TransportCredentials, error) {
	cfg, err := c.ServerConfig()
	if err != nil || cfg == nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

func (c Config) load() (tls.Certificate, *x509.CertPool, error) {
	if err := c.Validate(); err != nil {
		return tls.Certificate{}, nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("load certificate: %w", err)
	}

	caPEM, err := os.ReadFile(c.CAFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return tls.Certificate{}, nil, errors.New("failed to parse CA certificate")
	}

	return cert, pool, nil
}
