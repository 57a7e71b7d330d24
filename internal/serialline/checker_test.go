package serialline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutlierCheckerUnconfiguredPassesAlways(t *testing.T) {
	c := NewOutlierChecker()
	assert.True(t, c.Check("U1", "temp", 9999))
}

func TestOutlierCheckerDomainBounds(t *testing.T) {
	c := NewOutlierChecker()
	c.Add("U1", "temp", 0, 100, 5)

	assert.True(t, c.Check("U1", "temp", 50))
	assert.False(t, c.Check("U1", "temp", -1))
	assert.False(t, c.Check("U1", "temp", 101))
}

func TestOutlierCheckerDeviationRejectedThenRebaselined(t *testing.T) {
	c := NewOutlierChecker()
	c.Add("U1", "temp", 0, 100, 2)

	assert.True(t, c.Check("U1", "temp", 20))
	// three consecutive large jumps: first two rejected, third accepted as
	// the new baseline.
	assert.False(t, c.Check("U1", "temp", 40))
	assert.False(t, c.Check("U1", "temp", 41))
	assert.True(t, c.Check("U1", "temp", 42))

	// baseline is now 42; a small step from there passes immediately.
	assert.True(t, c.Check("U1", "temp", 43))
}

func TestOutlierCheckerRebaselineResetsCount(t *testing.T) {
	c := NewOutlierChecker()
	c.Add("U1", "temp", 0, 1000, 1)

	assert.True(t, c.Check("U1", "temp", 10))
	assert.False(t, c.Check("U1", "temp", 50))
	assert.False(t, c.Check("U1", "temp", 51))
	assert.True(t, c.Check("U1", "temp", 52)) // rebaseline, count resets to 0

	// another deviation series needs its own three strikes, not one.
	assert.False(t, c.Check("U1", "temp", 90))
}
