package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Fixture reads testdata/<name> from the directory of the calling test package.
func Fixture(t testing.TB, name string) []byte {
	t.Helper()

	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", path, err)
	}
	return data
}

// FixtureJSON decodes testdata/<name> into a T, typically a slice of entities
// to seed a store with.
func FixtureJSON[T any](t testing.TB, name string) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(Fixture(t, name), &v); err != nil {
		t.Fatalf("failed to decode fixture %s: %v", name, err)
	}
	return v
}
