package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"buyer", "seller"}, "seller"))
	assert.False(t, Contains([]string{"buyer"}, "seller"))
	assert.False(t, Contains(nil, 1))
}

func TestWithout(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, Without([]string{"a", "b", "c", "b"}, "b"))
	assert.Empty(t, Without([]string{"b"}, "b"))
}
