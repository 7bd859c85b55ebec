package export

import (
	"bytes"
	"testing"
	"time"

	"autocare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteRequestsXLSX(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	requests := []*models.ServiceRequest{
		{ID: "r1", CustomerID: "c1", Vehicle: "Civic", ServiceName: "Oil Change", Urgency: models.UrgencyNormal,
			Distance: 5, BasePrice: 49.99, Price: 99.99, Status: models.StatusPending, CreatedAt: ts, UpdatedAt: ts},
		{ID: "r2", CustomerID: "c2", MechanicID: "m1", Vehicle: "Golf", ServiceName: "Brake Repair", Urgency: models.UrgencyEmergency,
			Distance: 2, BasePrice: 199.99, Price: 269.99, Status: models.StatusCompleted, CreatedAt: ts, UpdatedAt: ts},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRequestsXLSX(&buf, requests))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "r1", rows[1][0])
	assert.Equal(t, "Brake Repair", rows[2][4])
	assert.Equal(t, "COMPLETED", rows[2][9])
	assert.Equal(t, "m1", rows[2][2])

	label, err := f.GetCellValue(SheetName, "H4")
	require.NoError(t, err)
	assert.Equal(t, "Total", label)
	total, err := f.GetCellValue(SheetName, "I4")
	require.NoError(t, err)
	assert.Equal(t, "369.98", total)
}

func TestWriteRequestsXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequestsXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	total, err := f.GetCellValue(SheetName, "I2")
	require.NoError(t, err)
	assert.Equal(t, "0", total)
}
