package gateway_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/gateway"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store/flatfile"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const seedFile = "admin;admin;admin:\nMax,Mustermann;identifier1;password1:\n"

// newFlatfile writes content to a temp credential file.
func newFlatfile(t *testing.T, content string) *flatfile.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return flatfile.New(path, silentLogger())
}

// selfSigned returns a server config and a client config trusting it, for
// 127.0.0.1 and localhost.
func selfSigned(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "portunus-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return server, client
}

// startServer serves d over TLS on a loopback port and returns a client for
// it. The server is stopped when the test ends.
func startServer(t *testing.T, d *gateway.Dispatcher, cfg gateway.ServerConfig) *gateway.Client {
	t.Helper()

	serverTLS, clientTLS := selfSigned(t)
	cfg.TLS = serverTLS

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := gateway.NewServer(cfg, d, silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return gateway.NewClient(gateway.ClientConfig{
		Addr:    srv.Addr().String(),
		TLS:     clientTLS,
		Timeout: 5 * time.Second,
	})
}

// countingNotifier counts change notifications.
type countingNotifier struct {
	n chan struct{}
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{n: make(chan struct{}, 64)}
}

func (c *countingNotifier) Notify(context.Context) error {
	c.n <- struct{}{}
	return nil
}

func (c *countingNotifier) count() int { return len(c.n) }
