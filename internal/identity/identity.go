// Package identity resolves the username a Command asks to run as into the
// uid the child process should execute under.
//
// A classic fork-then-setuid(2)-in-the-child dance gets the same effect
// through exec.Cmd's
// SysProcAttr.Credential, which the kernel applies atomically across the
// exec itself — so this package only has to resolve the uid, not switch the
// supervisor's own effective identity back and forth around the fork point.
package identity

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// IDs is the uid/gid pair Resolve returns: RUID is the supervisor's own
// real uid, EUID/EGID are the target user's.
type IDs struct {
	RUID int
	EUID int
	EGID int
}

// Resolve looks up username on the host. RUID is the current process's real
// uid (the identity the Supervisor itself runs as); EUID/EGID are the target
// user's uid/primary gid, the identity the child should execute under. An
// unknown username is reported as an error, which the Supervisor turns into
// the UserMissing synthetic Progress response rather than propagating —
// errors never cross the Supervisor/caller boundary.
func Resolve(username string) (IDs, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return IDs{}, fmt.Errorf("identity: user %q not found on system: %w", username, err)
	}
	euid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return IDs{}, fmt.Errorf("identity: user %q has non-numeric uid %q", username, u.Uid)
	}
	egid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return IDs{}, fmt.Errorf("identity: user %q has non-numeric gid %q", username, u.Gid)
	}
	return IDs{RUID: unix.Getuid(), EUID: euid, EGID: egid}, nil
}
