package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionOrdering(t *testing.T) {
	assert.True(t, V10.LessThan(V11), "v1.0 should be less than v1.1")
	assert.True(t, V12.GreaterThan(V11), "v1.2 should be greater than v1.1")
	assert.True(t, V11.Equal(V11), "v1.1 should equal itself")
	assert.True(t, V12.AtLeast(V10), "v1.2 should be at least v1.0")
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(V10), "v1.0 should be valid")
	assert.False(t, Valid(Version("v9.9")), "v9.9 should not be valid")
}
