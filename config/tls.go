package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Enabled reports whether any TLS path is set.
func (t TLSConfig) Enabled() bool {
	return t.CACert != "" || t.NodeCert != "" || t.NodeKey != ""
}

// LoadTLSConfig builds the mutual TLS config for P2P links. A disabled
// TLSConfig yields (nil, nil) and the caller falls back to plain TCP. A
// partially filled one is an error.
func LoadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.CACert == "" || cfg.NodeCert == "" || cfg.NodeKey == "" {
		return nil, fmt.Errorf("tls: ca_cert, node_cert and node_key must all be set")
	}

	cert, err := tls.LoadX509KeyPair(cfg.NodeCert, cfg.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("load node cert/key: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert %s", cfg.CACert)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
