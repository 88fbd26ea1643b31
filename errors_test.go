package espflash

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailAndIs(t *testing.T) {
	err := Fail(KindMd5Mismatch, "verify failed", nil)
	assert.True(t, Is(err, KindMd5Mismatch))
	assert.False(t, Is(err, KindSyncTimeout))
}

func TestFailWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Fail(KindRebaudFailed, "rebaud", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestIsUnwrapsThroughFmtWrap(t *testing.T) {
	inner := Fail(KindChecksumMismatch, "bad checksum", nil)
	outer := fmt.Errorf("outer: %w", inner)
	assert.True(t, Is(outer, KindChecksumMismatch))
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Kind(999).String())
}
