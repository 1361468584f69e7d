// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/z5labs/mq/queue"
)

func validConfig() map[string]string {
	return map[string]string{
		"Implementation": InboundFaFName,
		"Address":        "localhost:9092, localhost:9093",
		"QueueName":      "orders",
		"GroupId":        "billing",
	}
}

// writeTestCertificates writes a CA and a client key pair signed by it to
// dir and returns their paths.
func writeTestCertificates(t *testing.T, dir string) (caFile, certFile, keyFile string) {
	t.Helper()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test CA"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{Organization: []string{"Test Client"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caTemplate, &clientKey.PublicKey, caKey)
	require.NoError(t, err)

	caFile = filepath.Join(dir, "ca.pem")
	certFile = filepath.Join(dir, "client.pem")
	keyFile = filepath.Join(dir, "client-key.pem")

	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}), 0o600))
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: clientDER}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(clientKey),
	}), 0o600))
	return caFile, certFile, keyFile
}

func TestParseConfig(t *testing.T) {
	t.Run("will apply defaults", func(t *testing.T) {
		cfg, err := parseConfig(validConfig(), queue.Inbound)
		require.NoError(t, err)

		require.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.brokers)
		require.Equal(t, "orders", cfg.topic)
		require.Equal(t, "billing", cfg.groupID)
		require.False(t, cfg.ack)
		require.Equal(t, 1, cfg.maxConcurrent)
		require.Equal(t, 45*time.Second, cfg.sessionTimeout)
		require.Equal(t, 30*time.Second, cfg.rebalanceTimeout)
		require.Equal(t, int32(1), cfg.partitions)
		require.Equal(t, int16(1), cfg.replicationFactor)
		require.False(t, cfg.tls)
	})

	t.Run("will join the brokers into the address", func(t *testing.T) {
		cfg, err := parseConfig(validConfig(), queue.Inbound)
		require.NoError(t, err)
		require.Equal(t, "localhost:9092,localhost:9093", cfg.address())
	})

	t.Run("will read inbound settings", func(t *testing.T) {
		raw := validConfig()
		raw["Acknowledgment"] = "true"
		raw["MaxConcurrentReceiveCallback"] = "8"
		raw["SessionTimeoutInSeconds"] = "10"

		cfg, err := parseConfig(raw, queue.Inbound)
		require.NoError(t, err)
		require.True(t, cfg.ack)
		require.Equal(t, 8, cfg.maxConcurrent)
		require.Equal(t, 10*time.Second, cfg.sessionTimeout)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if GroupId is missing for an inbound queue", func(t *testing.T) {
			raw := validConfig()
			delete(raw, "GroupId")

			_, err := parseConfig(raw, queue.Inbound)
			require.Equal(t, queue.MissingRequiredConfigurationParameter, queue.CodeOf(err))

			qe, ok := queue.AsError(err)
			require.True(t, ok)
			require.Equal(t, QueueContext, qe.Context[queue.QueueContextKey])
		})

		t.Run("if GroupId is given for an outbound queue", func(t *testing.T) {
			_, err := parseConfig(validConfig(), queue.Outbound)
			require.Equal(t, queue.ParameterNotApplicationInCurrentConfiguration, queue.CodeOf(err))

			qe, ok := queue.AsError(err)
			require.True(t, ok)
			require.Equal(t, "GroupId", qe.Context[queue.ParameterNameKey])
		})

		t.Run("if the address lists no brokers", func(t *testing.T) {
			raw := validConfig()
			raw["Address"] = " , "

			_, err := parseConfig(raw, queue.Inbound)
			require.Equal(t, queue.InvalidValueForConfigurationParameter, queue.CodeOf(err))
			require.ErrorIs(t, err, errNoBrokers)
		})

		t.Run("if Partitions is not positive", func(t *testing.T) {
			raw := validConfig()
			raw["Partitions"] = "0"

			_, err := parseConfig(raw, queue.Inbound)
			require.Equal(t, queue.InvalidValueForConfigurationParameter, queue.CodeOf(err))
		})

		t.Run("if Partitions is not a number", func(t *testing.T) {
			raw := validConfig()
			raw["Partitions"] = "many"

			_, err := parseConfig(raw, queue.Inbound)
			require.Equal(t, queue.InvalidValueForConfigurationParameter, queue.CodeOf(err))
		})

		t.Run("if a TLS file is given without EnableTls", func(t *testing.T) {
			raw := validConfig()
			raw["TlsCaFile"] = "ca.pem"

			_, err := parseConfig(raw, queue.Inbound)
			require.Equal(t, queue.ParameterNotApplicationInCurrentConfiguration, queue.CodeOf(err))
		})

		t.Run("if a client certificate is given without its key", func(t *testing.T) {
			raw := validConfig()
			raw["EnableTls"] = "true"
			raw["TlsCertFile"] = "client.pem"

			_, err := parseConfig(raw, queue.Inbound)
			require.Equal(t, queue.ParameterRequiredInCurrentConfiguration, queue.CodeOf(err))
		})
	})
}

func TestConfig_TLSConfig(t *testing.T) {
	t.Run("will return nil", func(t *testing.T) {
		t.Run("if TLS is disabled", func(t *testing.T) {
			cfg, err := parseConfig(validConfig(), queue.Inbound)
			require.NoError(t, err)

			tc, err := cfg.tlsConfig()
			require.NoError(t, err)
			require.Nil(t, tc)
		})
	})

	t.Run("will use the system roots", func(t *testing.T) {
		t.Run("if only EnableTls is set", func(t *testing.T) {
			raw := validConfig()
			raw["EnableTls"] = "true"

			cfg, err := parseConfig(raw, queue.Inbound)
			require.NoError(t, err)

			tc, err := cfg.tlsConfig()
			require.NoError(t, err)
			require.NotNil(t, tc)
			require.Nil(t, tc.RootCAs)
			require.Empty(t, tc.Certificates)
			require.Equal(t, uint16(tls.VersionTLS12), tc.MinVersion)
		})
	})

	t.Run("will load the CA and client certificate", func(t *testing.T) {
		caFile, certFile, keyFile := writeTestCertificates(t, t.TempDir())

		raw := validConfig()
		raw["EnableTls"] = "true"
		raw["TlsCaFile"] = caFile
		raw["TlsCertFile"] = certFile
		raw["TlsKeyFile"] = keyFile

		cfg, err := parseConfig(raw, queue.Inbound)
		require.NoError(t, err)

		tc, err := cfg.tlsConfig()
		require.NoError(t, err)
		require.NotNil(t, tc.RootCAs)
		require.Len(t, tc.Certificates, 1)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the CA file holds no certificates", func(t *testing.T) {
			caFile := filepath.Join(t.TempDir(), "ca.pem")
			require.NoError(t, os.WriteFile(caFile, []byte("not a certificate"), 0o600))

			raw := validConfig()
			raw["EnableTls"] = "true"
			raw["TlsCaFile"] = caFile

			cfg, err := parseConfig(raw, queue.Inbound)
			require.NoError(t, err)

			_, err = cfg.tlsConfig()
			require.Error(t, err)
		})

		t.Run("if the client certificate cannot be read", func(t *testing.T) {
			dir := t.TempDir()

			raw := validConfig()
			raw["EnableTls"] = "true"
			raw["TlsCertFile"] = filepath.Join(dir, "missing.pem")
			raw["TlsKeyFile"] = filepath.Join(dir, "missing-key.pem")

			cfg, err := parseConfig(raw, queue.Inbound)
			require.NoError(t, err)

			_, err = cfg.tlsConfig()
			require.Error(t, err)
		})
	})
}

func TestImplementations(t *testing.T) {
	t.Run("will register both fire-and-forget roles", func(t *testing.T) {
		impls := Implementations()
		require.Len(t, impls, 2)
		require.Equal(t, InboundFaFName, impls[0].Name)
		require.Equal(t, queue.RoleInboundFaF, impls[0].Role)
		require.NotNil(t, impls[0].NewInboundFaF)
		require.Equal(t, OutboundFaFName, impls[1].Name)
		require.Equal(t, queue.RoleOutboundFaF, impls[1].Role)
		require.NotNil(t, impls[1].NewOutboundFaF)
	})
}
