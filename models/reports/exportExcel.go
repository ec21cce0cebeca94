package reports

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/xuri/excelize/v2"
)

// BuildDiscrepancyWorkbook renders the non-OK rows of a count summary
// into an XLSX workbook (the sheet the floor supervisor prints).
func BuildDiscrepancyWorkbook(summary *models.CountSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "Location")
	f.SetCellValue(sheet, "B1", "ItemId")
	f.SetCellValue(sheet, "C1", "ExpectedQty")
	f.SetCellValue(sheet, "D1", "CountedQty")
	f.SetCellValue(sheet, "E1", "Status")
	f.SetCellValue(sheet, "F1", "RecordedBy")
	f.SetCellValue(sheet, "G1", "Date")

	// Add data
	for i, d := range summary.Discrepancies {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, d.Location)
		f.SetCellValue(sheet, "B"+row, d.ItemId)
		if d.ExpectedQty != nil {
			f.SetCellValue(sheet, "C"+row, d.ExpectedQty.String())
		}
		f.SetCellValue(sheet, "D"+row, d.CountedQty.String())
		f.SetCellValue(sheet, "E"+row, string(d.Status))
		f.SetCellValue(sheet, "F"+row, d.RecordedBy)
		f.SetCellValue(sheet, "G"+row, d.RecordedAt.UTC().Format("2006-01-02"))
	}
	return f, nil
}

// WriteDiscrepancyExcel streams the workbook as an attachment; when
// uploadToGCS is set the workbook is also uploaded and the object URL
// written into the X-Report-Url response header.
func WriteDiscrepancyExcel(ctx context.Context, w http.ResponseWriter, summary *models.CountSummary, uploadToGCS bool) error {
	f, err := BuildDiscrepancyWorkbook(summary)
	if err != nil {
		return err
	}

	if uploadToGCS {
		var buf bytes.Buffer
		if err := f.Write(&buf); err != nil {
			return err
		}
		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		objectName := fmt.Sprintf("reports/%s/discrepancies-%s.xlsx",
			strings.TrimSpace(businessId), time.Now().UTC().Format("20060102-150405"))
		url, err := utils.SaveReportToGCS(ctx, objectName, buf.Bytes())
		if err != nil {
			return err
		}
		w.Header().Set("X-Report-Url", url)
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=discrepancies.xlsx")
	return f.Write(w)
}
