package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyContentReturnsBase(t *testing.T) {
	cfg, warnings, err := Parse("   \n", Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}

func TestParseRejectsNonObject(t *testing.T) {
	_, _, err := Parse("engine.dir = /opt", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "JSONC object")
}

func TestParseRejectsInvalidLanguage(t *testing.T) {
	_, _, err := Parse(`{"language": "!!"}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "language")
}
