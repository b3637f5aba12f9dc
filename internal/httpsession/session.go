// Package httpsession builds per-host authenticated, streaming HTTP
// clients for the download engine. One Session is constructed per host
// slot and reused across that host's workers.
package httpsession

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultMaxRedirects is the redirect hop cap used when Config.MaxRedirects
// is left at zero.
const DefaultMaxRedirects = 5

// Config controls how Sessions are built.
type Config struct {
	// CredentialsPath is the PEM file holding the client certificate and
	// key (default: ${HOME}/.esg/credentials.pem).
	CredentialsPath string
	// VerifyTLS enables server certificate verification. Disabled by
	// default to preserve historical behavior; leaving it off accepts
	// any server certificate and should be treated as a known risk.
	VerifyTLS bool
	// CABundlePath, when VerifyTLS is true, is an optional extra trust
	// root to add to the system pool.
	CABundlePath string
	// MaxRedirects caps the redirect chain length. Zero uses
	// DefaultMaxRedirects.
	MaxRedirects int
	// RequestTimeout bounds a single HTTP request's response-header
	// wait. Zero disables the timeout, preserving unbounded historical
	// behavior as the default.
	RequestTimeout time.Duration
}

// Session is an authenticated HTTP client bound to one host slot.
type Session struct {
	Client *http.Client
}

// New builds a Session from cfg. The client certificate is loaded once
// and reused for every request the returned client makes.
func New(cfg Config) (*Session, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CredentialsPath, cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("httpsession: load client certificate %s: %w", cfg.CredentialsPath, err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: !cfg.VerifyTLS,
	}
	if cfg.VerifyTLS && cfg.CABundlePath != "" {
		pool, err := loadCABundle(cfg.CABundlePath)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	if cfg.RequestTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.RequestTimeout
	}

	maxRedirects := cfg.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}

	return &Session{
		Client: &http.Client{
			Transport:     transport,
			CheckRedirect: redirectPolicy(maxRedirects),
			// Response bodies are streamed by callers; no Timeout is set
			// here because that would bound the whole download, not just
			// the dial and header wait.
		},
	}, nil
}

// DefaultCredentialsPath returns ${HOME}/.esg/credentials.pem.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/.esg/credentials.pem"
}

func loadCABundle(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("httpsession: read CA bundle %s: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("httpsession: no certificates found in %s", path)
	}
	return pool, nil
}
