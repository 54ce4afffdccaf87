package topology

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/topology-connect/topoconnect/pkg/util"
)

const sampleTopology = `
devices:
  ops1:
    type: switch
    ip: 10.0.0.5
    user: admin
    password: admin
    bootup_timeout: 180
    image:
      path: /images/sonic.bin
      server:
        ip: 10.0.0.9
        user: images
        password: images
    serial:
      command: telnet term-server 7005
      pre_connect_delay: 2
    interfaces:
      p1:
        name: "1"
        speed: "40000"
      p2:
        name: "2"
  hs1:
    type: host
    ip: 10.0.0.20
    user: tester
    password: tester
    interfaces:
      p1:
        name: eth1
`

func TestParse(t *testing.T) {
	top, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if got := top.Names(); !reflect.DeepEqual(got, []string{"hs1", "ops1"}) {
		t.Errorf("Names() = %v", got)
	}

	sw := top.Devices["ops1"]
	if sw.IP != "10.0.0.5" || sw.User != "admin" {
		t.Errorf("switch endpoint = %s/%s", sw.IP, sw.User)
	}
	if sw.BootupTimeout != 180 {
		t.Errorf("BootupTimeout = %d, want 180", sw.BootupTimeout)
	}
	if sw.Image == nil || sw.Image.Path != "/images/sonic.bin" {
		t.Fatalf("image attrs = %+v", sw.Image)
	}
	if sw.Image.Server.IP != "10.0.0.9" {
		t.Errorf("image server = %q", sw.Image.Server.IP)
	}
	if sw.Serial == nil || sw.Serial.Command != "telnet term-server 7005" {
		t.Fatalf("serial attrs = %+v", sw.Serial)
	}
	if sw.Serial.PreConnectDelay != 2 {
		t.Errorf("PreConnectDelay = %d, want 2", sw.Serial.PreConnectDelay)
	}
	if got := InterfaceLabels(sw); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Errorf("InterfaceLabels() = %v", got)
	}
	if sw.Interfaces["p1"].Speed != "40000" {
		t.Errorf("p1 speed = %q", sw.Interfaces["p1"].Speed)
	}

	hs := top.Devices["hs1"]
	if hs.Type != "host" || hs.Interfaces["p1"].Name != "eth1" {
		t.Errorf("host attrs = %+v", hs)
	}
}

func TestParse_ClearConfigDefaultsTrue(t *testing.T) {
	top, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	cc := top.Devices["ops1"].ClearConfig
	if cc == nil || !*cc {
		t.Errorf("ClearConfig = %v, want default true", cc)
	}
}

func TestParse_ClearConfigExplicitFalse(t *testing.T) {
	doc := `
devices:
  ops1:
    type: switch
    ip: 10.0.0.5
    user: admin
    clear_config: false
`
	top, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	cc := top.Devices["ops1"].ClearConfig
	if cc == nil || *cc {
		t.Errorf("ClearConfig = %v, want explicit false preserved", cc)
	}
}

func TestParse_ValidationFailure(t *testing.T) {
	doc := `
devices:
  ops1:
    type: switch
    user: admin
    favourite: blue
`
	_, err := Parse([]byte(doc))
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Fatalf("Parse() error = %v, want ErrValidationFailed", err)
	}
	var verr *util.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Parse() error = %v, want ValidationError", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("violations = %q, want 2 (missing ip, unknown attribute)", verr.Errors)
	}
}

func TestParse_UnknownDeviceType(t *testing.T) {
	doc := `
devices:
  r1:
    type: router
    ip: 10.0.0.1
`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "router") {
		t.Fatalf("Parse() error = %v, want unknown type", err)
	}
}

func TestParse_EmptyTopology(t *testing.T) {
	if _, err := Parse([]byte("devices: {}\n")); err == nil {
		t.Fatal("Parse() of empty topology succeeded")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(sampleTopology), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	top, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(top.Devices) != 2 {
		t.Errorf("Devices = %d, want 2", len(top.Devices))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}
