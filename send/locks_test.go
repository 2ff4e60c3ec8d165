package send

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNonceLocks(t *testing.T) {
	l := newNonceLocks()
	a, b := [32]byte{1}, [32]byte{2}

	require.True(t, l.tryLock(a))
	require.False(t, l.tryLock(a))
	require.True(t, l.tryLock(b))

	l.unlock(a)
	require.True(t, l.tryLock(a))
}
