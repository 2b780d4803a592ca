package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsndz/petbus/pkg/types"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	molly, ok := c.Lookup("Molly_004")
	require.True(t, ok)
	assert.Equal(t, "Molly", molly.Name)
	assert.Equal(t, types.DifficultyHigh, molly.Difficulty)

	_, ok = c.Lookup("Nope_999")
	assert.False(t, ok)

	assert.Equal(t, []string{"Budy_001", "Luna_002", "Max_003", "Molly_004", "Simba_005"}, c.IDs())
}

func TestParseYAML(t *testing.T) {
	c, err := ParseYAML([]byte(`
pets:
  - pet_id: Rex_010
    name: Rex
    species: dog
    difficulty: medium
`))
	require.NoError(t, err)

	rex, ok := c.Lookup("Rex_010")
	require.True(t, ok)
	assert.Equal(t, types.SpeciesDog, rex.Species)
	assert.Equal(t, types.DifficultyMedium, rex.Difficulty)
}

func TestParseYAMLRejectsBadEntries(t *testing.T) {
	_, err := ParseYAML([]byte("pets:\n  - pet_id: X\n    species: lizard\n    difficulty: low\n"))
	assert.Error(t, err)

	_, err = ParseYAML([]byte("pets:\n  - name: nameless\n    species: cat\n    difficulty: low\n"))
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pets:\n  - pet_id: Kit_1\n    name: Kit\n    species: cat\n    difficulty: low\n"), 0o600))

	c, err := LoadYAML(path)
	require.NoError(t, err)
	_, ok := c.Lookup("Kit_1")
	assert.True(t, ok)

	_, err = LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
