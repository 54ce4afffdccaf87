package provision

import (
	"fmt"
	"regexp"
)

// Prompts holds the serial-console patterns a burn navigates through. The
// defaults match OpenSwitch with a GRUB bootloader and ONIE rescue.
type Prompts struct {
	Login           *regexp.Regexp // login:
	Password        *regexp.Regexp
	RootShell       *regexp.Regexp // user@host:~#
	Vtysh           *regexp.Regexp
	BootMenu        *regexp.Regexp // bootloader menu header
	BootMenuOnie    *regexp.Regexp // ONIE entry highlighted
	Grub            *regexp.Regexp // production boot entries
	OnieShell       *regexp.Regexp // ONIE:/ #
	ActivateConsole *regexp.Regexp
	HostKeyConfirm  *regexp.Regexp
	ServerPassword  *regexp.Regexp
	InstallerDone   *regexp.Regexp // trailing restart hint after install
	EraseConfirm    *regexp.Regexp
}

// InstallSuccessMarker is the literal line the rescue installer prints on a
// clean install. Its absence from installer output fails the burn.
const InstallSuccessMarker = "Installation finished. No error reported."

// NoStartupConfigMarker is what the switch reports while no startup
// configuration exists yet.
const NoStartupConfigMarker = "No saved configuration exists"

// DefaultPrompts returns the OpenSwitch serial prompt set for the given
// login user.
func DefaultPrompts(user string) Prompts {
	return Prompts{
		Login:           regexp.MustCompile(`[lL]ogin: `),
		Password:        regexp.MustCompile(`[pP]assword: `),
		RootShell:       regexp.MustCompile(fmt.Sprintf(`%s@.+:~# `, regexp.QuoteMeta(user))),
		Vtysh:           regexp.MustCompile(`.+(\(.+\))?# `),
		BootMenu:        regexp.MustCompile(`OpenSwitch `),
		BootMenuOnie:    regexp.MustCompile(`ONIE`),
		Grub:            regexp.MustCompile(`(OpenSwitch Primary Image|OpenSwitch Secondary Image)`),
		OnieShell:       regexp.MustCompile(`ONIE:/ # `),
		ActivateConsole: regexp.MustCompile(`Please press Enter to activate this console\.`),
		HostKeyConfirm:  regexp.MustCompile(`Do you want to continue connecting\? \(y/n\) `),
		ServerPassword:  regexp.MustCompile(`.+password: `),
		InstallerDone:   regexp.MustCompile(`[rR]estart`),
		EraseConfirm:    regexp.MustCompile(`Do you want to continue \[y/n\]`),
	}
}
