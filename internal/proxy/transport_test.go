package proxy

import (
	"testing"
)

func TestTransportPoolReusesTransport(t *testing.T) {
	tp := NewTransportPool(DefaultTransportConfig)

	t1 := tp.Get("users")
	t2 := tp.Get("users")
	if t1 != t2 {
		t.Error("expected the same transport instance on repeated Get for the same upstream")
	}
}

func TestTransportPoolDistinctPerUpstream(t *testing.T) {
	tp := NewTransportPool(DefaultTransportConfig)

	t1 := tp.Get("users")
	t2 := tp.Get("reports")
	if t1 == t2 {
		t.Error("expected distinct transports per upstream")
	}
}

func TestTransportPoolSetConfigOverrides(t *testing.T) {
	tp := NewTransportPool(DefaultTransportConfig)
	before := tp.Get("secure")

	cfg := DefaultTransportConfig
	cfg.InsecureSkipVerify = true
	tp.SetConfig("secure", cfg)

	after := tp.Get("secure")
	if before == after {
		t.Error("expected SetConfig to replace the pooled transport")
	}
}

func TestNewTransportAppliesIdleConnTimeout(t *testing.T) {
	tr := NewTransport(DefaultTransportConfig)
	if tr.IdleConnTimeout != DefaultTransportConfig.IdleConnTimeout {
		t.Errorf("IdleConnTimeout = %v, want %v", tr.IdleConnTimeout, DefaultTransportConfig.IdleConnTimeout)
	}
}
