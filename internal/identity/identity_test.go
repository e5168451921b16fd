package identity

import (
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveReturnsCurrentUsersIDs(t *testing.T) {
	current, err := user.Current()
	require.NoError(t, err)

	ids, err := Resolve(current.Username)
	require.NoError(t, err)
	assert.Equal(t, unix.Getuid(), ids.RUID)
	assert.Equal(t, unix.Getuid(), ids.EUID)
}

func TestResolveRejectsUnknownUsername(t *testing.T) {
	_, err := Resolve("no-such-user-xyz-123")
	assert.Error(t, err)
}
