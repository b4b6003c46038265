package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVersion(t *testing.T) {
	cases := map[string]string{
		"4.0.1":          "v4.0.1",
		"2.0.1.Final":    "v2.0.1",
		"5.3.30.RELEASE": "v5.3.30",
		"3.0.0-M1":       "v3.0.0-M1",
		"1.4":            "v1.4.0",
		"1.0.beta":       "v1.0.0-beta",
		"1.2.3.4":        "v1.2.3",
		"${x}":           "",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeVersion(in), in)
	}
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast("3.1.2", "3.0.0"))
	assert.True(t, AtLeast("6.0.0.Final", "6.0.0"))
	assert.False(t, AtLeast("2.7.18", "3.0.0"))
	assert.False(t, AtLeast("3.0.0-M1", "3.0.0"))
	assert.False(t, AtLeast("", "1.0.0"))
	assert.Equal(t, "3", Major("3.2.1"))
}
