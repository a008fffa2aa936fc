package tlsutil

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d, want %d", cfg.MinVersion, tls.VersionTLS12)
	}
	if len(cfg.CipherSuites) != len(aeadSuites) {
		t.Fatalf("CipherSuites len = %d, want %d", len(cfg.CipherSuites), len(aeadSuites))
	}

	// 返回的切片不能与包级变量共享
	cfg.CipherSuites[0] = 0
	if aeadSuites[0] == 0 {
		t.Error("DefaultTLSConfig leaked the shared cipher suite slice")
	}
}

func TestServerTLSConfig_RequiresBothFiles(t *testing.T) {
	if _, err := ServerTLSConfig("", "key.pem"); err == nil {
		t.Error("expected error for missing cert file")
	}
	if _, err := ServerTLSConfig("cert.pem", ""); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestServerTLSConfig_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := ServerTLSConfig(dir+"/nope.pem", dir+"/nope.key"); err == nil {
		t.Error("expected error for unreadable key pair")
	}
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport()
	if tr.TLSClientConfig == nil {
		t.Fatal("TLSClientConfig should not be nil")
	}
	if tr.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("Transport TLS MinVersion = %d, want %d",
			tr.TLSClientConfig.MinVersion, tls.VersionTLS12)
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 should be true")
	}
	if tr.MaxIdleConnsPerHost != 16 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 16", tr.MaxIdleConnsPerHost)
	}
}

func TestSecureTransport_Options(t *testing.T) {
	tr := SecureTransport(WithMaxIdleConnsPerHost(2), WithDialTimeout(time.Second))
	if tr.MaxIdleConnsPerHost != 2 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 2", tr.MaxIdleConnsPerHost)
	}
	if tr.DialContext == nil {
		t.Error("DialContext should be set")
	}
}

func TestSecureHTTPClient(t *testing.T) {
	timeout := 15 * time.Second
	client := SecureHTTPClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
	if client.Transport == nil {
		t.Fatal("Transport should not be nil")
	}
}
