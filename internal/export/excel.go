package export

import (
	"fmt"
	"io"

	"autocare/internal/models"
	"autocare/internal/pricing"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Requests"

var headers = []string{
	"ID", "Customer", "Mechanic", "Vehicle", "Service", "Urgency",
	"Distance (km)", "Base Price", "Price", "Status", "Created At", "Updated At",
}

var statusColors = map[models.Status]string{
	models.StatusPending:    "#FFF2CC",
	models.StatusAccepted:   "#DDEBF7",
	models.StatusInProgress: "#FCE4D6",
	models.StatusCompleted:  "#E2EFDA",
	models.StatusRejected:   "#F8CBAD",
}

// WriteRequestsXLSX renders requests as a workbook with a totals row.
func WriteRequestsXLSX(w io.Writer, requests []*models.ServiceRequest) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetCellStyle(SheetName, "A1", lastCol+"1", headerStyle)

	styles := make(map[models.Status]int)
	total := 0.0
	for i, r := range requests {
		row := i + 2
		values := []interface{}{
			r.ID.String(),
			r.CustomerID,
			r.MechanicID,
			r.Vehicle,
			r.ServiceName,
			string(r.Urgency),
			r.Distance,
			r.BasePrice,
			r.Price,
			string(r.Status),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Format("2006-01-02 15:04"),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, start, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}

		styleID, err := statusStyle(f, styles, r.Status)
		if err == nil {
			cell, _ := excelize.CoordinatesToCellName(10, row)
			_ = f.SetCellStyle(SheetName, cell, cell, styleID)
		}
		total += r.Price
	}

	totalRow := len(requests) + 2
	_ = f.SetCellValue(SheetName, fmt.Sprintf("H%d", totalRow), "Total")
	_ = f.SetCellValue(SheetName, fmt.Sprintf("I%d", totalRow), pricing.RoundCents(total))
	boldStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(SheetName, fmt.Sprintf("H%d", totalRow), fmt.Sprintf("I%d", totalRow), boldStyle)

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", lastCol, 16)
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func statusStyle(f *excelize.File, cache map[models.Status]int, status models.Status) (int, error) {
	if id, ok := cache[status]; ok {
		return id, nil
	}
	color, ok := statusColors[status]
	if !ok {
		color = "#FFFFFF"
	}
	id, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
	if err != nil {
		return 0, err
	}
	cache[status] = id
	return id, nil
}
