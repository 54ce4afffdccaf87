package device_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/topology-connect/topoconnect/internal/testutil"
	"github.com/topology-connect/topoconnect/pkg/device"
	"github.com/topology-connect/topoconnect/pkg/provision"
	"github.com/topology-connect/topoconnect/pkg/shell"
)

// vtyshReply matches the vtysh prompt with the given output.
func vtyshReply(before string) testutil.Reply {
	return testutil.MatchReply("(switch)", before)
}

// switchLoginReplies scripts an SSH login followed by entering vtysh.
func switchLoginReplies() []testutil.Reply {
	return []testutil.Reply{
		testutil.MatchReply("ogin", ""),    // login prompt
		testutil.MatchReply("assword", ""), // password prompt
		testutil.MatchReply("admin@", ""),  // root shell
		vtyshReply(""),                     // vtysh prompt
	}
}

func switchAttrs() device.Attrs {
	return device.Attrs{
		Type:     "switch",
		IP:       "10.0.0.5",
		User:     "admin",
		Password: "admin",
		Interfaces: map[string]device.InterfaceAttrs{
			"p1": {Name: "1", Speed: "40000"},
		},
	}
}

func newTestSwitch(t *testing.T, attrs device.Attrs, chans ...shell.Channel) device.Node {
	t.Helper()
	n, err := device.New("ops1", attrs, device.Options{
		Dial:  testutil.Dialer(chans...),
		Sleep: func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return n
}

func TestSwitchStart_LogsInAndRestoresConfig(t *testing.T) {
	ch := testutil.NewScriptChannel(append(switchLoginReplies(),
		vtyshReply("copy startup-config running-config\r\n"),
	)...)
	n := newTestSwitch(t, switchAttrs(), ch)

	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if errs := ch.Errors(); len(errs) > 0 {
		t.Fatalf("script errors: %v", errs)
	}
	want := []string{
		"admin\n", "admin\n", "vtysh\n",
		"copy startup-config running-config\n",
	}
	if !reflect.DeepEqual(ch.Sent, want) {
		t.Errorf("sends:\n got %q\nwant %q", ch.Sent, want)
	}
}

func TestSwitchStart_ClearConfigDisabled(t *testing.T) {
	keep := false
	attrs := switchAttrs()
	attrs.ClearConfig = &keep
	ch := testutil.NewScriptChannel(switchLoginReplies()...)
	n := newTestSwitch(t, attrs, ch)

	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	for _, sent := range ch.Sent {
		if strings.Contains(sent, "copy startup-config") {
			t.Errorf("config restored despite clear_config: false (%q)", sent)
		}
	}
}

func TestSwitchBringPortUp_AlreadyUp(t *testing.T) {
	ch := testutil.NewScriptChannel(append(switchLoginReplies(),
		vtyshReply("copy startup-config running-config\r\n"),
		vtyshReply("show interface 1\r\nInterface 1 is up\r\n Admin state is up\r\n"),
	)...)
	n := newTestSwitch(t, switchAttrs(), ch)
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	real, err := n.BringPortUp("p1")
	if err != nil {
		t.Fatalf("BringPortUp() error: %v", err)
	}
	if real != "1" {
		t.Errorf("BringPortUp() = %q, want %q", real, "1")
	}
	if got := ch.Sent[len(ch.Sent)-1]; got != "show interface 1\n" {
		t.Errorf("last send = %q, configuration issued for an up interface", got)
	}
}

func TestSwitchBringPortUp_ConfiguresDownInterface(t *testing.T) {
	ch := testutil.NewScriptChannel(append(switchLoginReplies(),
		vtyshReply("copy startup-config running-config\r\n"),
		vtyshReply("show interface 1\r\nInterface 1 is down (Administratively down)\r\n"),
		vtyshReply(""), // config
		vtyshReply(""), // interface 1
		vtyshReply(""), // speed 40000
		vtyshReply(""), // no shutdown
		vtyshReply(""), // exit
		vtyshReply(""), // exit
	)...)
	n := newTestSwitch(t, switchAttrs(), ch)
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := n.BringPortUp("p1"); err != nil {
		t.Fatalf("BringPortUp() error: %v", err)
	}
	if errs := ch.Errors(); len(errs) > 0 {
		t.Fatalf("script errors: %v", errs)
	}
	want := []string{
		"show interface 1\n",
		"config\n", "interface 1\n", "speed 40000\n",
		"no shutdown\n", "exit\n", "exit\n",
	}
	got := ch.Sent[len(ch.Sent)-len(want):]
	if !reflect.DeepEqual(got, want) {
		t.Errorf("configure sends:\n got %q\nwant %q", got, want)
	}
}

func TestSwitchWaitPortUp_PollsAdminState(t *testing.T) {
	ch := testutil.NewScriptChannel(append(switchLoginReplies(),
		vtyshReply("copy startup-config running-config\r\n"),
		vtyshReply("show interface 1\r\n Admin state is down\r\n"),
		vtyshReply("show interface 1\r\n Admin state is up\r\n"),
	)...)
	n := newTestSwitch(t, switchAttrs(), ch)
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := n.WaitPortUp("p1"); err != nil {
		t.Fatalf("WaitPortUp() error: %v", err)
	}
	if errs := ch.Errors(); len(errs) > 0 {
		t.Errorf("script errors: %v", errs)
	}
}

func TestSwitchRollback_HardwareReboot(t *testing.T) {
	attrs := switchAttrs()
	attrs.RebootCommand = []string{"pdu-cycle", "ops1"}
	attrs.BootupTimeout = 180

	var reboots [][]string
	var slept []time.Duration
	n, err := device.New("ops1", attrs, device.Options{
		Dial:       testutil.Dialer(),
		Sleep:      func(d time.Duration) { slept = append(slept, d) },
		ExecReboot: func(argv []string) error { reboots = append(reboots, argv); return nil },
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := n.Rollback(); err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if len(reboots) != 1 || !reflect.DeepEqual(reboots[0], []string{"pdu-cycle", "ops1"}) {
		t.Errorf("reboots = %v, want one pdu-cycle", reboots)
	}
	if len(slept) != 1 || slept[0] != 180*time.Second {
		t.Errorf("slept %v, want one 3m boot-up wait", slept)
	}
}

func TestSwitchNew_ImageRequiresRegistry(t *testing.T) {
	attrs := switchAttrs()
	attrs.Image = &device.ImageAttrs{
		Path:   "/images/sonic.bin",
		Server: device.ServerAttrs{IP: "10.0.0.9", User: "images"},
	}
	attrs.Serial = &device.SerialAttrs{Command: "telnet term-server 7005"}

	_, err := device.New("ops1", attrs, device.Options{Dial: testutil.Dialer()})
	if err == nil {
		t.Fatal("New() with image attributes succeeded without a registry")
	}
}

func TestSwitchNew_ImageRequiresSerialConsole(t *testing.T) {
	attrs := switchAttrs()
	attrs.Image = &device.ImageAttrs{
		Path:   "/images/sonic.bin",
		Server: device.ServerAttrs{IP: "10.0.0.9", User: "images"},
	}

	_, err := device.New("ops1", attrs, device.Options{
		Registry: provision.NewRegistry(),
		Dial:     testutil.Dialer(),
	})
	if err == nil || !strings.Contains(err.Error(), "serial") {
		t.Fatalf("New() error = %v, want serial block complaint", err)
	}
}

func TestSwitchNew_BurnsDeclaredImage(t *testing.T) {
	attrs := switchAttrs()
	attrs.Image = &device.ImageAttrs{
		Path:   "/images/sonic.bin",
		Server: device.ServerAttrs{IP: "10.0.0.9", User: "images", Password: "images"},
	}
	attrs.Serial = &device.SerialAttrs{Command: "telnet term-server 7005"}

	serial := testutil.NewScriptChannel(
		// Console-state classification: the console is sitting at login.
		testutil.MatchReply("ogin", ""),
		// Console login with the management credentials.
		testutil.MatchReply("ogin", ""),
		testutil.MatchReply("assword", ""),
		// Reboot into the bootloader and walk the menus.
		testutil.MatchReply("Primary", ""),
		testutil.MatchReply("OpenSwitch", ""),
		testutil.MatchReply("OpenSwitch", ""),
		testutil.MatchReply("OpenSwitch", ""),
		testutil.MatchReply("ONIE", ""),
		testutil.MatchReply("ONIE", ""),
		testutil.MatchReply("activate", ""),
		testutil.MatchReply("ONIE:/", ""),
		// Download, verify, install.
		testutil.MatchReply("continue connecting", ""),
		testutil.MatchReply("password: ", ""),
		testutil.MatchReply("ONIE:/", ""),
		testutil.MatchReply("ONIE:/", "echo $?\r\n0\r\n"),
		testutil.MatchReply("estart", "sh sonic.bin\r\nInstallation finished. No error reported.\r\nPlease r"),
		// Back to production.
		testutil.MatchReply("Primary", ""),
		testutil.MatchReply("ogin", ""),
	)
	eraseVtysh := testutil.NewScriptChannel(append(switchLoginReplies(),
		testutil.MatchReply(`\[y/n\]`, "erase startup-config\r\nDo you want to continue [y/n]"),
		vtyshReply("y\r\n"),
	)...)
	settleVtysh := testutil.NewScriptChannel(append(switchLoginReplies(),
		vtyshReply("copy running-config startup-config\r\n"),
		vtyshReply("show startup-config\r\nCurrent configuration:\r\n!\r\n"),
	)...)

	reg := provision.NewRegistry()
	_, err := device.New("ops1", attrs, device.Options{
		Registry: reg,
		Dial:     testutil.Dialer(serial, eraseVtysh, settleVtysh),
		Sleep:    func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for i, ch := range []*testutil.ScriptChannel{serial, eraseVtysh, settleVtysh} {
		if errs := ch.Errors(); len(errs) > 0 {
			t.Errorf("channel %d script errors: %v", i, errs)
		}
		if ch.Remaining() != 0 {
			t.Errorf("channel %d: %d scripted replies never consumed", i, ch.Remaining())
		}
	}
	if !reg.Burned("10.0.0.5") {
		t.Error("identity not marked in registry")
	}

	ran := false
	for _, sent := range serial.Sent {
		if sent == "sh sonic.bin\n" {
			ran = true
		}
	}
	if !ran {
		t.Errorf("installer never invoked; serial sends: %q", serial.Sent)
	}
}

func TestSwitchNew_SecondUnitForSameIdentitySkipsBurn(t *testing.T) {
	attrs := switchAttrs()
	attrs.Image = &device.ImageAttrs{
		Path:   "/images/sonic.bin",
		Server: device.ServerAttrs{IP: "10.0.0.9", User: "images"},
	}
	attrs.Serial = &device.SerialAttrs{Command: "telnet term-server 7005"}

	reg := provision.NewRegistry()
	reg.MarkIfNew(attrs.IP)

	// No channels scripted: construction must not touch the console at all.
	n, err := device.New("ops1b", attrs, device.Options{
		Registry: reg,
		Dial:     testutil.Dialer(),
		Sleep:    func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if n.Kind() != device.KindSwitch {
		t.Errorf("Kind() = %v", n.Kind())
	}
}
