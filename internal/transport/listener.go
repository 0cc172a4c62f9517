package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// LoadTLSConfig reads a certificate and key pair for a wss listener.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Listen opens a TCP listener on addr, wrapped in TLS when tlsConfig is set.
func Listen(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	if tlsConfig == nil {
		return lis, nil
	}
	return tls.NewListener(lis, tlsConfig), nil
}
