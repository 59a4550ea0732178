package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionString(t *testing.T) {
	require.Equal(t, "1.2.3", Version{Major: 1, Minor: 2, Patch: 3}.String())
	require.Equal(t, "1.2.3-pre", Version{Major: 1, Minor: 2, Patch: 3, Prerelease: "-pre"}.String())
	require.NotEmpty(t, GetAppVersion().String())
}
