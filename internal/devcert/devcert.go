// Package devcert adapts the teacher's self-signed certificate generator
// (zsiec/prism's certs package) to the client side of a WebTransport dial:
// generating an ephemeral cert for loopback test harnesses, and fetching
// a server's certificate fingerprint from an insecure HTTP sidecar so an
// otherwise-unverifiable self-signed dev server can still be pinned.
package devcert

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"time"
)

// maxValidity mirrors WebTransport's requirement that a self-signed
// certificate used with serverCertificateHashes be valid for at most 14
// days.
const maxValidity = 14 * 24 * time.Hour

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// Generate creates a self-signed ECDSA P-256 certificate, the server
// half of the fingerprint-pinning convention FetchFingerprint and
// VerifyHashes consume: a dev server presents this certificate and
// publishes its Fingerprint over plain HTTP for clients to pin.
func Generate(validity time.Duration) (*CertInfo, error) {
	if validity > maxValidity || validity <= 0 {
		validity = maxValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("devcert: generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("devcert: generate serial number: %w", err)
	}

	now := time.Now()
	notBefore := now.Add(-1 * time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "moqlite-dev"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("devcert: create certificate: %w", err)
	}

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(certDER),
		NotAfter:    template.NotAfter,
	}, nil
}

// FetchFingerprint performs a plain HTTP GET against fingerprintURL and
// decodes the response body as a hex-encoded SHA-256 certificate
// fingerprint. This is the client-side half of the insecure dev-URL
// rewrite in session.Connect: an http:// session URL implies the peer
// also serves its certificate hash over plain HTTP on the same host, the
// way local moq-rs/hang dev servers do.
func FetchFingerprint(ctx context.Context, fingerprintURL string) ([32]byte, error) {
	var out [32]byte
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fingerprintURL, nil)
	if err != nil {
		return out, fmt.Errorf("devcert: build fingerprint request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("devcert: fetch fingerprint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("devcert: fingerprint endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return out, fmt.Errorf("devcert: read fingerprint body: %w", err)
	}
	decoded, err := hex.DecodeString(string(trimNewline(body)))
	if err != nil {
		return out, fmt.Errorf("devcert: decode fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("devcert: fingerprint has %d bytes, want 32", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// VerifyHashes returns a tls.Config.VerifyPeerCertificate callback that
// accepts a leaf certificate iff its SHA-256 digest matches one of
// hashes, the same pinning scheme WebTransport's serverCertificateHashes
// option describes (spec §6).
func VerifyHashes(hashes [][32]byte) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("devcert: no certificate presented")
		}
		got := sha256.Sum256(rawCerts[0])
		for _, want := range hashes {
			if got == want {
				return nil
			}
		}
		return fmt.Errorf("devcert: certificate fingerprint not in allowed set")
	}
}
