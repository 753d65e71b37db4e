package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device.Name != "Legendary Invention" {
		t.Errorf("Device.Name = %q", cfg.Device.Name)
	}
	if !cfg.BLE.Enabled || !cfg.Battery.Enabled || !cfg.Server.Enabled || cfg.MQTT.Enabled {
		t.Errorf("unexpected enabled sections: %+v %+v %+v %+v", cfg.BLE, cfg.Battery, cfg.Server, cfg.MQTT)
	}
	if cfg.Persist.Delay.Duration() != 5*time.Second {
		t.Errorf("Persist.Delay = %v", cfg.Persist.Delay.Duration())
	}
	if cfg.Battery.Interval.Duration() != time.Minute || cfg.Battery.Window != 10 {
		t.Errorf("battery = %+v", cfg.Battery)
	}
	if cfg.Battery.Idle != (BandConfig{3000, 3900}) || cfg.Battery.Powered != (BandConfig{2800, 3700}) {
		t.Errorf("bands = %+v / %+v", cfg.Battery.Idle, cfg.Battery.Powered)
	}
	if cfg.OTA.Password != "12345678" {
		t.Errorf("OTA.Password = %q", cfg.OTA.Password)
	}
}

func TestParse(t *testing.T) {
	t.Setenv("LIGHT_OTA_PASSWORD", "s3cret")

	doc := `
device:
  name: "  Desk Lamp  "
ble:
  enabled: false
output:
  driver: SYSFS
  period: 1ms
battery:
  path: /tmp/adc
  interval: 30s
  window: 4
persist:
  delay: 2s
ota:
  password: ${LIGHT_OTA_PASSWORD}
mqtt:
  enabled: true
  topic_prefix: /home/desk/
schedules:
  - name: evening
    spec: "0 20 * * *"
    script: set_mode(1)
log:
  level: DEBUG
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"device name trimmed", cfg.Device.Name, "Desk Lamp"},
		{"ble disabled", cfg.BLE.Enabled, false},
		{"battery stays enabled", cfg.Battery.Enabled, true},
		{"driver lowered", cfg.Output.Driver, "sysfs"},
		{"pwm period", cfg.Output.Period.Duration(), time.Millisecond},
		{"battery interval", cfg.Battery.Interval.Duration(), 30 * time.Second},
		{"battery window", cfg.Battery.Window, 4},
		{"persist delay", cfg.Persist.Delay.Duration(), 2 * time.Second},
		{"env expanded", cfg.OTA.Password, "s3cret"},
		{"prefix trimmed", cfg.MQTT.TopicPrefix, "home/desk"},
		{"log level lowered", cfg.Log.Level, "debug"},
		{"schedule count", len(cfg.Schedules), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown driver", "output:\n  driver: gpio\n", "output driver"},
		{"inverted band", "battery:\n  idle:\n    low: 3900\n    high: 3000\n", "band"},
		{"schedule without script", "schedules:\n  - spec: \"@hourly\"\n", "schedule 0"},
		{"bad duration", "persist:\n  delay: soon\n", "decode yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "light.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9000" || !cfg.Server.Enabled {
		t.Errorf("server = %+v", cfg.Server)
	}
}
