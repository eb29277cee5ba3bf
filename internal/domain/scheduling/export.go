package scheduling

import (
	"bytes"
	"context"
	"fmt"

	"github.com/360EntSecGroup-Skylar/excelize"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
)

const (
	exportSheet    = "Appointments"
	exportPageSize = 500
	maxExportRows  = 10000
)

var exportHeaders = []string{
	"Date", "Time", "Duration (min)", "Patient", "AyurSutra ID", "Therapy", "Status", "Reason", "Notes",
}

// Export renders the caller's appointments matching f as an xlsx workbook.
// Only doctors and admins may export.
func (s *Service) Export(ctx context.Context, caller Caller, f ListFilter) (*bytes.Buffer, error) {
	if caller.Role != auth.RoleDoctor && caller.Role != auth.RoleAdmin {
		return nil, ErrForbidden
	}

	var all []*Appointment
	for offset := 0; offset < maxExportRows; offset += exportPageSize {
		page, total, err := s.List(ctx, caller, f, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if offset+len(page) >= total || len(page) == 0 {
			break
		}
	}
	return s.workbook(all)
}

func (s *Service) workbook(items []*Appointment) (*bytes.Buffer, error) {
	file := excelize.NewFile()
	index := file.NewSheet(exportSheet)
	file.DeleteSheet("Sheet1")
	file.SetActiveSheet(index)

	for i, h := range exportHeaders {
		file.SetCellValue(exportSheet, cellName(i, 1), h)
	}
	for i, a := range items {
		appendAppointmentRow(file, i+2, a.ScheduledAt.In(s.loc).Format("2006-01-02"),
			a.ScheduledAt.In(s.loc).Format("15:04"), a)
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func appendAppointmentRow(file *excelize.File, row int, date, clock string, a *Appointment) {
	values := []interface{}{
		date, clock, a.DurationMinutes, a.Patient.Name, a.Patient.AyurSutraID, a.Therapy, a.Status,
		deref(a.Reason), deref(a.Notes),
	}
	for col, v := range values {
		file.SetCellValue(exportSheet, cellName(col, row), v)
	}
}

// cellName converts a zero-based column and one-based row to "A1" form.
func cellName(col, row int) string {
	return fmt.Sprintf("%c%d", 'A'+col, row)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
