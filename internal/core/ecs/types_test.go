package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_GrowCapacity_RoundsUpByOneAndAHalf(t *testing.T) {
	// Arrange & Act
	got := growCapacity(4, 5)

	// Assert
	assert.GreaterOrEqual(t, got, 5)
	assert.Less(t, got, 20)
}

func Test_GrowCapacity_NeverShrinks(t *testing.T) {
	assert.Equal(t, 10, growCapacity(10, 3))
}

func Test_GrowCapacity_ConvergesWhenNeededIsLarge(t *testing.T) {
	got := growCapacity(1, 1000)
	assert.GreaterOrEqual(t, got, 1000)
}

func Test_ShrinkCapacity_IsOneAndTwoTenthsOfLivePlusOne(t *testing.T) {
	assert.Equal(t, 13, shrinkCapacity(10))
	assert.Equal(t, 1, shrinkCapacity(0))
}

func Test_BumpVersion_IncrementsFromZero(t *testing.T) {
	assert.Equal(t, Version(1), bumpVersion(0))
}

func Test_BumpVersion_IncrementsPositive(t *testing.T) {
	assert.Equal(t, Version(6), bumpVersion(5))
}

func Test_BumpVersion_TreatsNegativeAsUnset(t *testing.T) {
	assert.Equal(t, Version(1), bumpVersion(deadVersion))
}

func Test_BumpVersion_SaturatesAtMax(t *testing.T) {
	max := Version(1 << 62)
	assert.Equal(t, max, bumpVersion(max))
	assert.Equal(t, max, bumpVersion(max-1))
}

func Test_CloneMode_String(t *testing.T) {
	cases := map[CloneMode]string{
		CloneDisable:       "disable",
		CloneValueCopy:     "value-copy",
		CloneReferenceCopy: "reference-copy",
		CloneInvoke:        "invoke-clone",
		CloneMode(99):      "CloneMode(99)",
	}
	for mode, want := range cases {
		assert.Equal(t, want, mode.String())
	}
}
