package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

func testRecords() []models.Characterization {
	created := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	synced := created.Add(time.Hour)
	return []models.Characterization{
		{
			ID:                1,
			LocalReference:    "RAD-LOCAL-1",
			OfficialReference: "RAD-20240101-ABC123",
			Status:            models.StatusSynced,
			Payload:           models.Payload(`{"beneficiario":{"numeroDocumento":"1001"}}`),
			Owner:             models.Owner{Email: "asesor@example.org"},
			CreatedAt:         created,
			UpdatedAt:         synced,
			SyncedAt:          &synced,
		},
		{
			ID:               2,
			LocalReference:   "RAD-LOCAL-2",
			Status:           models.StatusSyncError,
			Payload:          models.Payload(`{"numeroDocumento":"1002"}`),
			Owner:            models.Owner{ID: "u-9"},
			CreatedAt:        created,
			UpdatedAt:        created,
			SyncAttemptCount: 2,
			LastSyncError:    "documento invalido",
		},
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, testRecords()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, headers, rows[0])
	assert.Equal(t, []string{
		"1", "RAD-LOCAL-1", "RAD-20240101-ABC123", "SYNCED", "1001", "asesor@example.org",
		"2024-01-01 08:00:00", "2024-01-01 09:00:00", "2024-01-01 09:00:00", "0", "",
		`{"beneficiario":{"numeroDocumento":"1001"}}`,
	}, rows[1])

	assert.Equal(t, "RAD-LOCAL-2", rows[2][1])
	assert.Equal(t, "", rows[2][2])
	assert.Equal(t, "SYNC_ERROR", rows[2][3])
	assert.Equal(t, "1002", rows[2][4])
	assert.Equal(t, "u-9", rows[2][5])
	assert.Equal(t, "2", rows[2][9])
	assert.Equal(t, "documento invalido", rows[2][10])
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSaveXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caracterizaciones.xlsx")
	require.NoError(t, SaveXLSX(path, testRecords()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
}
