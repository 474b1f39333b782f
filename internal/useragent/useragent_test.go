package useragent

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandom(t *testing.T) {
	for range 20 {
		ua := Random()
		assert.True(t, slices.Contains(agents, ua), "unexpected user agent %q", ua)
	}
}
