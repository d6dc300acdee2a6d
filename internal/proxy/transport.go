package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// TransportConfig configures the pooled HTTP transport used to reach one upstream.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration

	// mTLS to the upstream.
	InsecureSkipVerify bool
	CAFile             string
	CertFile           string
	KeyFile            string
}

// DefaultTransportConfig matches spec §4.3: a shared keep-alive pool per
// upstream with a ~2 minute bounded idle lifetime.
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       2 * time.Minute,
	DialTimeout:           10 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

func buildTLSConfig(cfg TransportConfig) *tls.Config {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		if caCert, err := os.ReadFile(cfg.CAFile); err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = pool
		}
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile); err == nil {
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig
}

// NewTransport builds a pooled http.Transport for a single upstream.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		TLSClientConfig:       buildTLSConfig(cfg),
		ForceAttemptHTTP2:     true,
	}
}

// DefaultTransport builds a transport with DefaultTransportConfig.
func DefaultTransport() *http.Transport {
	return NewTransport(DefaultTransportConfig)
}

// TransportPool holds one pooled transport per upstream name, built lazily
// from a shared default config.
type TransportPool struct {
	defaultCfg TransportConfig
	mu         sync.RWMutex
	transports map[string]*http.Transport
}

// NewTransportPool creates a pool that lazily builds transports from cfg.
func NewTransportPool(cfg TransportConfig) *TransportPool {
	return &TransportPool{
		defaultCfg: cfg,
		transports: make(map[string]*http.Transport),
	}
}

// Get returns the transport for upstream, building it from the pool's
// default config on first use.
func (tp *TransportPool) Get(upstream string) *http.Transport {
	tp.mu.RLock()
	t, ok := tp.transports[upstream]
	tp.mu.RUnlock()
	if ok {
		return t
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()
	if t, ok := tp.transports[upstream]; ok {
		return t
	}
	t = NewTransport(tp.defaultCfg)
	tp.transports[upstream] = t
	return t
}

// SetConfig installs a custom transport config for a specific upstream
// (e.g. mTLS to one service), replacing any transport already built for it.
func (tp *TransportPool) SetConfig(upstream string, cfg TransportConfig) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.transports[upstream] = NewTransport(cfg)
}

// CloseIdleConnections closes idle connections on every pooled transport.
func (tp *TransportPool) CloseIdleConnections() {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	for _, t := range tp.transports {
		t.CloseIdleConnections()
	}
}
