package transfer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/packsync/pkg/manifest"
)

// The SHA-1 digest of "Hello World".
const helloWorldSHA1 = "0a4d55a8d778e5022fab701977c5d840bbc486d0"

func TestHashFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/hello.txt", []byte("Hello World"), 0644))

	digest, err := HashFile(fs, "/game/hello.txt")
	assert.NoError(t, err)
	assert.Equal(t, helloWorldSHA1, digest)

	_, err = HashFile(fs, "/game/missing.txt")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	const dest = "/game/mods/a.jar"

	tests := []struct {
		name      string
		contents  *string
		entry     manifest.FileEntry
		cached    *manifest.FileEntry
		expResult Decision
		expTier   Tier
	}{
		{
			name:      "Missing",
			entry:     manifest.FileEntry{Path: "mods/a.jar", SHA1: helloWorldSHA1},
			expResult: Fetch,
			expTier:   TierNone,
		},
		{
			name:      "CacheHit",
			contents:  str("stale contents are never read"),
			entry:     manifest.FileEntry{Path: "mods/a.jar", SHA1: helloWorldSHA1},
			cached:    &manifest.FileEntry{Path: "mods/a.jar", SHA1: helloWorldSHA1},
			expResult: Skip,
			expTier:   TierCache,
		},
		{
			name:      "CacheMissWrongSize",
			contents:  str("Hello"),
			entry:     manifest.FileEntry{Path: "mods/a.jar", SHA1: helloWorldSHA1, Size: manifest.Size(11)},
			cached:    &manifest.FileEntry{Path: "mods/a.jar", SHA1: "old"},
			expResult: Fetch,
			expTier:   TierSize,
		},
		{
			name:      "SizeMatchNoHash",
			contents:  str("Hello World"),
			entry:     manifest.FileEntry{Path: "mods/a.jar", Size: manifest.Size(11)},
			expResult: Skip,
			expTier:   TierSize,
		},
		{
			name:      "SizeMatchHashMatch",
			contents:  str("Hello World"),
			entry:     manifest.FileEntry{Path: "mods/a.jar", SHA1: helloWorldSHA1, Size: manifest.Size(11)},
			expResult: Skip,
			expTier:   TierHash,
		},
		{
			name:      "SizeMatchHashMismatch",
			contents:  str("Hello Worle"),
			entry:     manifest.FileEntry{Path: "mods/a.jar", SHA1: helloWorldSHA1, Size: manifest.Size(11)},
			expResult: Fetch,
			expTier:   TierHash,
		},
		{
			name:      "HashOnly",
			contents:  str("Hello World"),
			entry:     manifest.FileEntry{Path: "mods/a.jar", SHA1: "0A4D55A8D778E5022FAB701977C5D840BBC486D0"},
			expResult: Skip,
			expTier:   TierHash,
		},
		{
			name:      "NoEvidence",
			contents:  str("Hello World"),
			entry:     manifest.FileEntry{Path: "mods/a.jar"},
			expResult: Fetch,
			expTier:   TierNone,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if test.contents != nil {
				require.NoError(t, afero.WriteFile(fs, dest, []byte(*test.contents), 0644))
			}

			decision, tier, err := Classify(fs, dest, test.entry, test.cached)
			assert.NoError(t, err)
			assert.Equal(t, test.expResult, decision)
			assert.Equal(t, test.expTier, tier)
		})
	}
}

func str(s string) *string {
	return &s
}
