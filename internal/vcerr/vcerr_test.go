package vcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeRoundTrip(t *testing.T) {
	for _, c := range codes {
		got := FromCode(Code(c.err))
		require.ErrorIs(t, got, c.err)
	}
}

func TestCodeUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("register pid 42: %w", ErrAlreadyExists)
	require.Equal(t, CodeAlreadyExists, Code(err))
	require.Equal(t, CodeNone, Code(nil))
	require.Equal(t, CodeOperationFailed, Code(errors.New("opaque")))
}

func TestFromCodeUnknownNegativeIsOperationFailed(t *testing.T) {
	err := FromCode(-9999)
	require.ErrorIs(t, err, ErrOperationFailed)
	require.Contains(t, err.Error(), "-9999")
	require.NoError(t, FromCode(CodeNone))
}

func TestRecorderBusyIsResourceBusy(t *testing.T) {
	require.ErrorIs(t, ErrRecorderBusy, ErrResourceBusy)
}
