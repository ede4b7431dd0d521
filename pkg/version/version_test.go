package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOutdated(t *testing.T) {
	tests := []struct {
		running, advertised string
		exp                 bool
		expErr              bool
	}{
		{running: "1.0.0", advertised: "1.2.0", exp: true},
		{running: "v1.1.1", advertised: "1.1.10", exp: true},
		{running: "1.2.0", advertised: "1.2.0"},
		{running: "1.3.0", advertised: "1.2.0"},
		{running: "1.2.0-rc1", advertised: "1.2.0", exp: true},
		{running: EmptyValue, advertised: "1.2.0", expErr: true},
		{running: "1.2.0", advertised: "latest", expErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.running+"/"+test.advertised, func(t *testing.T) {
			outdated, err := IsOutdated(test.running, test.advertised)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.exp, outdated)
		})
	}
}

func TestUserAgent(t *testing.T) {
	Version = "1.1.1"
	assert.Equal(t, "packsync/1.1.1", UserAgent())
}
