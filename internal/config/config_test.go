package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "hostapp.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfgPath := writeTempConfig(t, `host:
  application_id: host-1
mqtt:
  broker: tcp://broker:1883
`)
	t.Setenv("HOSTCORE_CONFIG", cfgPath)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Host.Version != "v3.0.0" {
		t.Fatalf("expected default version v3.0.0, got %q", cfg.Host.Version)
	}
	if cfg.MQTT.KeepAliveSecs != 15 {
		t.Fatalf("expected default keepalive 15, got %d", cfg.MQTT.KeepAliveSecs)
	}
	if cfg.Ordering.SeqCacheExpirationMinutes != 120 {
		t.Fatalf("expected default seq cache expiration 120, got %d", cfg.Ordering.SeqCacheExpirationMinutes)
	}
	if cfg.Ordering.SeqReorderTimeoutMs != 10000 {
		t.Fatalf("expected default reorder timeout 10000, got %d", cfg.Ordering.SeqReorderTimeoutMs)
	}
	if cfg.Ordering.SendRebirthOnTimeout == nil || !*cfg.Ordering.SendRebirthOnTimeout {
		t.Fatalf("expected default send rebirth on timeout true")
	}
}

func TestLoad_ParseAll(t *testing.T) {
	cfgPath := writeTempConfig(t, `host:
  application_id: host-1
  version: v3.0.0
mqtt:
  broker: tcp://broker:1883
  client_id: fixed-id
  keepalive_secs: 30
subscriptions:
  - "spBv1.0/+/NCMD/#"
ordering:
  enabled: true
  seq_cache_expiration_minutes: 5
  seq_reorder_timeout_ms: 2500
  send_rebirth_on_timeout: false
`)
	t.Setenv("HOSTCORE_CONFIG", cfgPath)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.ClientID != "fixed-id" || cfg.MQTT.KeepAliveSecs != 30 {
		t.Fatalf("unexpected mqtt config: %+v", cfg.MQTT)
	}
	if len(cfg.Subscriptions) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(cfg.Subscriptions))
	}
	if !cfg.Ordering.Enabled || cfg.Ordering.SeqCacheExpirationMinutes != 5 || cfg.Ordering.SeqReorderTimeoutMs != 2500 {
		t.Fatalf("unexpected ordering config: %+v", cfg.Ordering)
	}
	if cfg.Ordering.SendRebirthOnTimeout == nil || *cfg.Ordering.SendRebirthOnTimeout {
		t.Fatalf("expected explicit send_rebirth_on_timeout=false to stick")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("HOSTCORE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
