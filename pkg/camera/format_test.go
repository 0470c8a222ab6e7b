package camera

import (
	"go/format"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Build-tagged files are not compiled on every platform, so check them here.
func TestSourcesAreFormatted(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		got, err := format.Source(src)
		require.NoError(t, err, name)
		assert.Equal(t, string(got), string(src), "%s is not gofmt-ed", name)
	}
}
