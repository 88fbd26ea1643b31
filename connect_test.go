package espflash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReversed(t *testing.T) {
	assert.Equal(t, []string{"c", "b", "a"}, reversed([]string{"a", "b", "c"}))
	assert.Equal(t, []string{}, reversed([]string{}))
}

func TestStrategiesCoversBothResetKinds(t *testing.T) {
	assert.Len(t, strategies, 2)
}
