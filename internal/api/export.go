package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/orderflow"
)

const (
	exportDateLayout = "2006-01-02"
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	reportSheetName  = "Платежи"
)

var reportHeaders = []string{
	"ID заказа", "Номер", "Дата заказа", "Статус заказа", "Статус платежа",
	"Сумма", "Доставка", "К оплате", "Возвращено", "ID транзакции", "Оплачен", "Возврат",
}

// ExportPayments отдаёт xlsx-сверку платежей за период from..to включительно.
// По умолчанию выгружается текущий день.
func (h *handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	from, to, err := reportPeriod(r, h.clock().UTC())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.deps.Store.ListPaymentReport(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	f, err := BuildPaymentReport(rows)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("payments_%s_%s.xlsx", from.Format(exportDateLayout), to.AddDate(0, 0, -1).Format(exportDateLayout))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		h.logger.Error("ExportPayments: ошибка записи файла", zap.Error(err))
		return
	}
	h.logger.Info("Выгружена сверка платежей", zap.Int("rows", len(rows)), zap.String("file", filename))
}

// reportPeriod разбирает from/to (YYYY-MM-DD). Возвращает полуинтервал [from, to+1 день).
func reportPeriod(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from, to := today, today

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(exportDateLayout, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("некорректная дата from, ожидается ГГГГ-ММ-ДД")
		}
		to = from
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(exportDateLayout, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("некорректная дата to, ожидается ГГГГ-ММ-ДД")
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("дата to раньше from")
	}
	return from, to.AddDate(0, 0, 1), nil
}

// BuildPaymentReport собирает книгу с одним листом сверки.
func BuildPaymentReport(rows []orderflow.PaymentReportRow) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(reportSheetName)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания листа: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("ошибка удаления стандартного листа: %w", err)
	}
	f.SetActiveSheet(index)

	for i, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(reportSheetName, cell, header); err != nil {
			return nil, err
		}
	}

	for i, row := range rows {
		o, p := row.Order, row.Payment
		values := []interface{}{
			o.ID,
			o.Code,
			o.CreatedAt.Format("02.01.2006 15:04"),
			constants.StatusDisplayMap[o.Status],
			constants.PaymentStatusDisplayMap[p.Status],
			o.TotalAmount.InexactFloat64(),
			o.DeliveryCost.InexactFloat64(),
			p.Amount.InexactFloat64(),
			p.RefundedAmount.InexactFloat64(),
			p.TransactionID.String,
			formatNullTime(p.PaidAt.Valid, p.PaidAt.Time),
			formatNullTime(p.RefundedAt.Valid, p.RefundedAt.Time),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(reportSheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func formatNullTime(valid bool, t time.Time) string {
	if !valid {
		return ""
	}
	return t.Format("02.01.2006 15:04")
}
