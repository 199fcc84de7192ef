package redisstream

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	require.Equal(t, "scenesync:room:r1", s.StreamName("r1"))

	s.Enabled = true
	s.Addr = ""
	require.Error(t, s.Validate())

	s.Prefix = ""
	require.Equal(t, "room:r1", s.StreamName("r1"))
}

func TestIsBusyGroup(t *testing.T) {
	require.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	require.False(t, isBusyGroup(errors.New("NOGROUP")))
	require.False(t, isBusyGroup(nil))
}
