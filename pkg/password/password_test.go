package password

import (
	"strings"
	"testing"

	"im-sync/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	h, err := Hash("secret123")
	require.NoError(t, err)
	assert.True(t, Verify("secret123", h))
	assert.False(t, Verify("secret124", h))
}

func TestHashRejectsBadLength(t *testing.T) {
	_, err := Hash("abc")
	assert.ErrorIs(t, err, errs.ErrConflictInvariant)
	_, err = Hash(strings.Repeat("x", MaxLength+1))
	assert.ErrorIs(t, err, errs.ErrConflictInvariant)
}
