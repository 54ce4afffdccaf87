package provision

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/topology-connect/topoconnect/pkg/shell"
	"github.com/topology-connect/topoconnect/pkg/util"
)

// Stage names one step of the burn workflow. Stages run in strict forward
// order; a failure aborts before the next stage issues anything.
type Stage string

const (
	StageEstablishSerial        Stage = "establish-serial"
	StageEraseStartupConfig     Stage = "erase-startup-config"
	StageRebootToBootloader     Stage = "reboot-to-bootloader"
	StageSelectRescueMode       Stage = "select-rescue-mode"
	StageSelectRescueInstaller  Stage = "select-rescue-installer"
	StageDownloadImage          Stage = "download-image"
	StageVerifyDownload         Stage = "verify-download"
	StageRunInstaller           Stage = "run-installer"
	StageRebootToProduction     Stage = "reboot-to-production"
	StageSettleAndRestoreConfig Stage = "settle-and-restore-config"
)

// Navigation keystrokes for the bootloader and rescue menus. Selection is by
// position, not by reading menu content.
const (
	keyArrowDown = "\x1b[B"
	keyEnter     = "\n\r"
)

// ImageServer is where the rescue OS downloads the image from.
type ImageServer struct {
	IP       string
	User     string
	Password string
}

// Job is one firmware burn: a target switch, an image, and the two sessions
// the workflow drives. Created at device construction when image attributes
// are declared; runs to completion or a fatal error, and is not retried by
// the workflow itself.
type Job struct {
	Device   string // display identity
	Identity string // network identity keying the burn-once registry

	ImagePath string
	Server    ImageServer

	Serial *shell.Session // serial console session, unconnected
	Vtysh  *shell.Session // management vtysh session, unconnected

	Prompts Prompts

	RebootCommand []string // external hardware reboot invocation

	BootupTimeout     time.Duration
	BootloaderTimeout time.Duration // 0 keeps the session timeout
	PostBootSettle    time.Duration
	// RescueActivateTimeout covers the rescue OS waiting on a DHCP lease
	// before it offers its console. Defaults to 3 minutes.
	RescueActivateTimeout time.Duration

	// Test seams. Nil means time.Sleep and a real subprocess.
	Sleep      func(time.Duration)
	ExecReboot func(argv []string) error
}

// settleAttempts bounds stage 10's promote-and-check loop.
const settleAttempts = 15

// Run executes the burn. If the device identity is already marked in the
// registry the whole workflow is skipped: an earlier device object in this
// run owns (or owned) the burn. The mark is taken before stage 1 so a
// concurrently constructed duplicate never starts a redundant burn, and it
// is kept on failure.
func (j *Job) Run(reg *Registry) error {
	if !reg.MarkIfNew(j.Identity) {
		util.WithDevice(j.Device).Infof("image already burned to %s in this run, skipping", j.Identity)
		return nil
	}
	j.setDefaults()

	util.WithDevice(j.Device).Infof("burning image %s from %s", j.ImagePath, j.Server.IP)

	stages := []struct {
		name Stage
		fn   func() error
	}{
		{StageEstablishSerial, j.establishSerial},
		{StageEraseStartupConfig, j.eraseStartupConfig},
		{StageRebootToBootloader, j.rebootToBootloader},
		{StageSelectRescueMode, j.selectRescueMode},
		{StageSelectRescueInstaller, j.selectRescueInstaller},
		{StageDownloadImage, j.downloadImage},
		{StageVerifyDownload, j.verifyDownload},
		{StageRunInstaller, j.runInstaller},
		{StageRebootToProduction, j.rebootToProduction},
	}
	for _, st := range stages {
		util.WithStage(j.Device, string(st.name)).Debug("entering stage")
		if err := st.fn(); err != nil {
			return err
		}
	}

	// Stage 10 degrades to a warning: the switch may be perfectly usable
	// even when the startup config could not be confirmed in time.
	if err := j.settleAndRestoreConfig(); err != nil {
		util.WithStage(j.Device, string(StageSettleAndRestoreConfig)).Warnf("%v", err)
	}

	util.WithDevice(j.Device).Info("image burned, switch ready")
	return nil
}

func (j *Job) setDefaults() {
	if j.Sleep == nil {
		j.Sleep = time.Sleep
	}
	if j.ExecReboot == nil {
		j.ExecReboot = func(argv []string) error {
			return exec.Command(argv[0], argv[1:]...).Run()
		}
	}
	if j.RescueActivateTimeout == 0 {
		j.RescueActivateTimeout = 3 * time.Minute
	}
}

// establishSerial opens and authenticates the serial console. One hardware
// reboot is allowed between the two attempts; two handshake failures in a
// row are fatal.
func (j *Job) establishSerial() error {
	err := j.Serial.Connect()
	if err == nil {
		return nil
	}
	util.WithStage(j.Device, string(StageEstablishSerial)).
		Warnf("serial handshake failed (%v), rebooting and retrying once", err)
	if rerr := j.rebootHardware(); rerr != nil {
		return j.fail(StageEstablishSerial, util.ReasonHandshakeFailed, rerr)
	}
	if err := j.Serial.Connect(); err != nil {
		return j.fail(StageEstablishSerial, util.ReasonHandshakeFailed, err)
	}
	return nil
}

// eraseStartupConfig removes the saved configuration over the management
// vtysh session so the freshly burned image boots clean.
func (j *Job) eraseStartupConfig() error {
	if err := j.Vtysh.Connect(); err != nil {
		return j.fail(StageEraseStartupConfig, util.ReasonHandshakeFailed, err)
	}
	prev := j.Vtysh.SetPrompt(j.Prompts.EraseConfirm)
	if _, err := j.Vtysh.Run("erase startup-config"); err != nil {
		return j.failVtysh(StageEraseStartupConfig, err)
	}
	j.Vtysh.SetPrompt(prev)
	if _, err := j.Vtysh.Run("y"); err != nil {
		return j.failVtysh(StageEraseStartupConfig, err)
	}
	return j.Vtysh.Disconnect()
}

func (j *Job) rebootToBootloader() error {
	j.Serial.SetPrompt(j.Prompts.Grub)
	restore := j.overrideTimeout(j.BootloaderTimeout)
	_, err := j.Serial.Run("reboot")
	restore()
	if err != nil {
		return j.fail(StageRebootToBootloader, util.ReasonTimeout, err)
	}
	return nil
}

// selectRescueMode walks the bootloader menu down to the rescue entry and
// enters it. The keystrokes are positional; the short sleeps give the menu
// time to redraw between them.
func (j *Job) selectRescueMode() error {
	j.Serial.SetPrompt(j.Prompts.BootMenu)
	j.Sleep(time.Second)
	for i := 0; i < 3; i++ {
		if err := j.pressKey(keyArrowDown); err != nil {
			return j.fail(StageSelectRescueMode, util.ReasonTimeout, err)
		}
	}
	j.Sleep(time.Second)
	j.Serial.SetPrompt(j.Prompts.BootMenuOnie)
	if err := j.pressKey(keyEnter); err != nil {
		return j.fail(StageSelectRescueMode, util.ReasonTimeout, err)
	}
	return nil
}

// selectRescueInstaller picks the installer entry inside the rescue menu and
// waits out the rescue OS acquiring an address before its console activates.
func (j *Job) selectRescueInstaller() error {
	j.Sleep(time.Second)
	if err := j.pressKey(keyArrowDown); err != nil {
		return j.fail(StageSelectRescueInstaller, util.ReasonTimeout, err)
	}
	j.Sleep(time.Second)

	j.Serial.SetPrompt(j.Prompts.ActivateConsole)
	restore := j.overrideTimeout(j.RescueActivateTimeout)
	err := j.pressKey(keyEnter)
	restore()
	if err != nil {
		return j.fail(StageSelectRescueInstaller, util.ReasonTimeout, err)
	}

	j.Serial.SetPrompt(j.Prompts.OnieShell)
	if err := j.pressKey(keyEnter); err != nil {
		return j.fail(StageSelectRescueInstaller, util.ReasonTimeout, err)
	}
	return nil
}

// downloadImage fetches the image over scp inside the rescue OS. The wait
// for completion has no overall timeout: as long as the trailing output
// keeps changing between timeouts the transfer is alive, and only an
// unchanged window fails the stage.
func (j *Job) downloadImage() error {
	util.WithStage(j.Device, string(StageDownloadImage)).
		Infof("downloading %s from %s", j.ImagePath, j.Server.IP)

	j.Serial.SetPrompt(j.Prompts.HostKeyConfirm)
	cmd := fmt.Sprintf("scp %s@%s:%s ./", j.Server.User, j.Server.IP, shell.ShellQuote(j.ImagePath))
	if _, err := j.Serial.Run(cmd); err != nil {
		return j.fail(StageDownloadImage, util.ReasonTimeout, err)
	}

	j.Serial.SetPrompt(j.Prompts.ServerPassword)
	if _, err := j.Serial.Run("y"); err != nil {
		return j.fail(StageDownloadImage, util.ReasonTimeout, err)
	}
	// The password prompt was just consumed by the wait above, so the answer
	// goes straight into the channel.
	if err := j.Serial.SendRaw(j.Server.Password, true); err != nil {
		return j.fail(StageDownloadImage, util.ReasonTimeout, err)
	}

	j.Serial.SetPrompt(j.Prompts.OnieShell)
	var win StallWindow
	for {
		_, err := j.Serial.ExpectPrompt(0)
		if err == nil {
			return nil
		}
		if !errors.Is(err, util.ErrExpectTimeout) {
			return j.fail(StageDownloadImage, util.ReasonTimeout, err)
		}
		if !win.Progressed(j.Serial.Tail()) {
			return j.fail(StageDownloadImage, util.ReasonStalled, nil)
		}
		util.WithStage(j.Device, string(StageDownloadImage)).Debug("transfer still progressing")
	}
}

func (j *Job) verifyDownload() error {
	out, err := j.Serial.Run("echo $?")
	if err != nil {
		return j.fail(StageVerifyDownload, util.ReasonTimeout, err)
	}
	if strings.TrimSpace(out) != "0" {
		return &util.ProvisionError{
			Device:   j.Device,
			Stage:    string(StageVerifyDownload),
			Reason:   util.ReasonNonZeroExit,
			Fragment: out,
		}
	}
	return nil
}

func (j *Job) runInstaller() error {
	file := j.ImagePath[strings.LastIndexByte(j.ImagePath, '/')+1:]
	util.WithStage(j.Device, string(StageRunInstaller)).Infof("running installer %s", file)

	j.Serial.SetPrompt(j.Prompts.InstallerDone)
	out, err := j.Serial.Run("sh " + file)
	if err != nil {
		return j.fail(StageRunInstaller, util.ReasonTimeout, err)
	}
	if !strings.Contains(out, InstallSuccessMarker) {
		return &util.ProvisionError{
			Device:   j.Device,
			Stage:    string(StageRunInstaller),
			Reason:   util.ReasonMissingSuccessMarker,
			Fragment: lastLines(out, 5),
		}
	}
	return nil
}

// rebootToProduction rides the installer's reboot: consume the bootloader
// menu screen, then settle on the login prompt.
func (j *Job) rebootToProduction() error {
	j.Serial.SetPrompt(j.Prompts.Grub)
	restore := j.overrideTimeout(j.BootloaderTimeout)
	_, err := j.Serial.Run("")
	restore()
	if err != nil {
		return j.fail(StageRebootToProduction, util.ReasonTimeout, err)
	}

	j.Serial.SetPrompt(j.Prompts.Login)
	if err := j.pressKey(keyEnter); err != nil {
		return j.fail(StageRebootToProduction, util.ReasonTimeout, err)
	}
	return nil
}

// settleAndRestoreConfig waits for system daemons to finish starting, then
// promotes the running config to startup config, checking it actually took.
// Callers treat a failure here as a warning, not a burn failure.
func (j *Job) settleAndRestoreConfig() error {
	j.Sleep(j.PostBootSettle)

	if err := j.Vtysh.Connect(); err != nil {
		return fmt.Errorf("reconnecting after burn: %w", err)
	}
	defer j.Vtysh.Disconnect()

	for i := 0; i < settleAttempts; i++ {
		if _, err := j.Vtysh.Run("copy running-config startup-config"); err != nil {
			return err
		}
		out, err := j.Vtysh.Run("show startup-config")
		if err != nil {
			return err
		}
		if !strings.Contains(out, NoStartupConfigMarker) {
			return nil
		}
		j.Sleep(time.Second)
	}
	return fmt.Errorf("startup config still missing after %d attempts", settleAttempts)
}

// pressKey sends a raw keystroke and waits for the current prompt.
func (j *Job) pressKey(data string) error {
	if err := j.Serial.SendRaw(data, false); err != nil {
		return err
	}
	_, err := j.Serial.ExpectPrompt(0)
	return err
}

// overrideTimeout swaps the serial timeout when d is non-zero and returns a
// restore func.
func (j *Job) overrideTimeout(d time.Duration) func() {
	if d == 0 {
		return func() {}
	}
	prev := j.Serial.SetTimeout(d)
	return func() { j.Serial.SetTimeout(prev) }
}

// rebootHardware invokes the declared out-of-band reboot command, then gives
// the switch its boot-up time. No-op when no command is declared.
func (j *Job) rebootHardware() error {
	if len(j.RebootCommand) == 0 {
		return nil
	}
	util.WithDevice(j.Device).Infof("hardware reboot via %v", j.RebootCommand)
	if err := j.ExecReboot(j.RebootCommand); err != nil {
		return fmt.Errorf("hardware reboot %v: %w", j.RebootCommand, err)
	}
	j.Sleep(j.BootupTimeout)
	return nil
}

func (j *Job) fail(stage Stage, reason util.ProvisionReason, err error) error {
	return &util.ProvisionError{
		Device:   j.Device,
		Stage:    string(stage),
		Reason:   reason,
		Fragment: j.Serial.Tail(),
		Err:      err,
	}
}

func (j *Job) failVtysh(stage Stage, err error) error {
	return &util.ProvisionError{
		Device:   j.Device,
		Stage:    string(stage),
		Reason:   util.ReasonTimeout,
		Fragment: j.Vtysh.Tail(),
		Err:      err,
	}
}

// lastLines returns the last n lines of s, for error fragments.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
