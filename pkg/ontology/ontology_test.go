package ontology

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `entries:
  - name: aspirin
    type: Drug
    code: ATC:B01AC06
  - name: atrial fibrillation
    type: Condition
    code: ICD10:I48
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTableClassifier(t *testing.T) {
	c, err := LoadTableClassifier(writeTable(t, sampleTable))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	ctx := context.Background()

	code, err := c.Classify(ctx, "aspirin", "Drug")
	require.NoError(t, err)
	assert.Equal(t, "ATC:B01AC06", code)

	code, err = c.Classify(ctx, "aspirin", "Condition")
	require.NoError(t, err)
	assert.Equal(t, CodeUnknown, code)

	code, err = c.Classify(ctx, "metformin", "Drug")
	require.NoError(t, err)
	assert.Equal(t, CodeUnknown, code)
}

func TestLoadTableClassifierRejectsIncompleteEntries(t *testing.T) {
	_, err := LoadTableClassifier(writeTable(t, "entries:\n  - name: aspirin\n    type: Drug\n"))
	assert.Error(t, err)
}

func TestLoadTableClassifierMissingFile(t *testing.T) {
	_, err := LoadTableClassifier(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestStaticClassifier(t *testing.T) {
	ctx := context.Background()

	code, err := StaticClassifier{}.Classify(ctx, "anything", "Any")
	require.NoError(t, err)
	assert.Equal(t, CodeUnknown, code)

	code, err = StaticClassifier{Code: "TEST:1"}.Classify(ctx, "anything", "Any")
	require.NoError(t, err)
	assert.Equal(t, "TEST:1", code)
}
