package utils

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
)

func decodeEnv(envVar string) ([]byte, error) {
	b64 := os.Getenv(envVar)
	if b64 == "" {
		return nil, fmt.Errorf("missing env var: %s", envVar)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", envVar, err)
	}
	return data, nil
}

// TLSConfigFromEnv builds a client TLS config from the base64 encoded
// SERVICE_CERT_BASE64, SERVICE_KEY_BASE64 and CA_PEM_BASE64 variables.
func TLSConfigFromEnv() (*tls.Config, error) {
	cert, err := decodeEnv("SERVICE_CERT_BASE64")
	if err != nil {
		return nil, err
	}
	key, err := decodeEnv("SERVICE_KEY_BASE64")
	if err != nil {
		return nil, err
	}
	ca, err := decodeEnv("CA_PEM_BASE64")
	if err != nil {
		return nil, err
	}

	keypair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS keypair: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("failed to parse CA PEM")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{keypair},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
