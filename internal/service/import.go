package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"account-service/internal/models"
	"account-service/internal/store"
	"account-service/internal/util"

	"go.uber.org/zap"
)

var (
	identifierHeaders = []string{"identifier", "email", "username", "login", "account"}
	secretHeaders     = []string{"secret", "password", "pass"}
)

// ImportCSV creates one account per CSV row. Rows are independent: a failing
// row is reported and skipped, earlier rows stay committed.
func (s *InventoryService) ImportCSV(ctx context.Context, productID int64, r io.Reader) (report *models.ImportReport, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ImportCSV")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("import", time.Now(), &err)

	if productID <= 0 {
		return nil, models.NewValidationError("product_id is required")
	}
	if _, err := s.store.GetProductByID(ctx, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.NewNotFoundError("product %d not found", productID)
		}
		return nil, wrapStorage("load product", err)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, malformedCSV("could not parse CSV: %v", err)
	}
	if len(records) == 0 {
		return nil, malformedCSV("CSV file is empty")
	}

	idCol, secretCol := headerColumns(records[0])
	if idCol < 0 || secretCol < 0 {
		return nil, malformedCSV("CSV header must name an identifier column (%s) and a secret column (%s)",
			strings.Join(identifierHeaders, "/"), strings.Join(secretHeaders, "/"))
	}

	rows := records[1:]
	if len(rows) > s.opts.ImportMaxRows {
		return nil, models.NewValidationError("CSV has %d rows, at most %d are allowed", len(rows), s.opts.ImportMaxRows)
	}

	report = &models.ImportReport{Errors: []models.ImportRowError{}}
	for i, record := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		// header is row 1
		rowNum := i + 2
		report.TotalProcessed++

		identifier := field(record, idCol)
		secret := field(record, secretCol)
		if identifier == "" || secret == "" {
			report.AddError(rowNum, identifier, "missing identifier or secret")
			continue
		}

		_, err := s.createAccount(ctx, CreateAccountInput{
			ProductID:  productID,
			Identifier: identifier,
			Secret:     secret,
		}, "csv")
		if err != nil {
			report.AddError(rowNum, identifier, importErrorMessage(err))
			continue
		}
		report.SuccessCount++
	}

	util.ImportRowsTotal.WithLabelValues("success").Add(float64(report.SuccessCount))
	util.ImportRowsTotal.WithLabelValues("error").Add(float64(report.ErrorCount))

	s.logger.Info("CSV import finished",
		zap.Int64("product_id", productID),
		zap.Int("total_processed", report.TotalProcessed),
		zap.Int("success_count", report.SuccessCount),
		zap.Int("error_count", report.ErrorCount))

	return report, nil
}

func headerColumns(header []string) (idCol, secretCol int) {
	idCol, secretCol = -1, -1
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if idCol < 0 && contains(identifierHeaders, name) {
			idCol = i
		}
		if secretCol < 0 && contains(secretHeaders, name) {
			secretCol = i
		}
	}
	return idCol, secretCol
}

func field(record []string, col int) string {
	if col >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[col])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func malformedCSV(format string, args ...interface{}) *models.InventoryError {
	e := models.NewValidationError(format, args...)
	e.Code = models.CodeMalformedCSV
	return e
}

func importErrorMessage(err error) string {
	var ie *models.InventoryError
	if errors.As(err, &ie) && ie.Kind != models.KindStorage {
		return ie.Message
	}
	return "failed to store account"
}
