package httpsession

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestCredentials generates a throwaway self-signed cert+key pair
// and writes it as a single combined PEM, mirroring the MyProxy-style
// proxy certificate layout ESGF credentials use.
func writeTestCredentials(t *testing.T) string {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "esgfetch-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "credentials.pem")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("pem.Encode(cert) error = %v", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}); err != nil {
		t.Fatalf("pem.Encode(key) error = %v", err)
	}
	return path
}

func TestNew_LoadsClientCertificate(t *testing.T) {
	path := writeTestCredentials(t)
	sess, err := New(Config{CredentialsPath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if sess.Client == nil || sess.Client.Transport == nil {
		t.Fatalf("New() produced session with nil client/transport")
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(Config{CredentialsPath: filepath.Join(t.TempDir(), "missing.pem")})
	if err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestNew_InsecureSkipVerifyByDefault(t *testing.T) {
	path := writeTestCredentials(t)
	sess, err := New(Config{CredentialsPath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	transport, ok := sess.Client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport is %T, want *http.Transport", sess.Client.Transport)
	}
	if !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify=true by default")
	}
}

func TestNew_VerifyTLSEnablesVerification(t *testing.T) {
	path := writeTestCredentials(t)
	sess, err := New(Config{CredentialsPath: path, VerifyTLS: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	transport := sess.Client.Transport.(*http.Transport)
	if transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify=false when VerifyTLS is set")
	}
}

func TestDefaultCredentialsPath(t *testing.T) {
	p := DefaultCredentialsPath()
	if p == "" {
		t.Fatal("DefaultCredentialsPath() returned empty string")
	}
}
