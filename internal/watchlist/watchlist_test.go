package watchlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/nsescan/internal/models"
)

func TestBuiltInListIsValid(t *testing.T) {
	list := Default()
	assert.Len(t, list, 50)
	seen := map[string]bool{}
	for _, s := range list {
		assert.NoError(t, models.ValidateSymbol(s), s)
		assert.False(t, seen[s], "duplicate %s", s)
		seen[s] = true
	}

	list[0] = "CHANGED"
	assert.Equal(t, "RELIANCE-EQ", Nifty50[0])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.txt")
	content := "# banks\nhdfcbank-eq\nSBIN-EQ  # state bank\n\nSBIN-EQ\nTCS\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	list, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFCBANK-EQ", "SBIN-EQ", "TCS"}, list)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = Load(empty)
	assert.ErrorContains(t, err, "no symbols")

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("INFY\nBAD SYMBOL\n"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, ":2:")
}

func TestLoadEmptyPathUsesBuiltIn(t *testing.T) {
	list, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Nifty50, list)
}

func TestSelect(t *testing.T) {
	list := []string{"A", "B", "C", "D"}
	assert.Equal(t, []string{"A", "B"}, Select(list, false, 2))
	assert.Equal(t, list, Select(list, true, 2))
	assert.Equal(t, list, Select(list, false, 10))
	assert.Equal(t, list, Select(list, false, 0))
}
