package service

import (
	"context"
	"strings"
	"testing"

	"account-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCSVReportsBadRows(t *testing.T) {
	svc, st, _, _ := newTestService()
	csv := "email,password\n" +
		"one@example.com,pw1\n" +
		"two@example.com,pw2\n" +
		"three@example.com,\n" +
		"four@example.com,pw4\n" +
		"five@example.com,pw5\n"

	report, err := svc.ImportCSV(context.Background(), testProductID, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalProcessed)
	assert.Equal(t, 4, report.SuccessCount)
	assert.Equal(t, 1, report.ErrorCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 4, report.Errors[0].Row)
	assert.Equal(t, "three@example.com", report.Errors[0].Identifier)
	assert.Equal(t, 4, st.stock(testProductID))
	assert.Len(t, st.all(), 4)
}

func TestImportCSVDuplicateIdentifierRow(t *testing.T) {
	svc, st, _, _ := newTestService()
	mustCreate(t, svc, "taken@example.com", 1)
	csv := "\ufeffUsername, Pass\n" +
		"fresh@example.com, pw\n" +
		"taken@example.com, pw\n"

	report, err := svc.ImportCSV(context.Background(), testProductID, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 1, report.SuccessCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Row)
	assert.Contains(t, report.Errors[0].Error, "already exists")
	assert.Equal(t, 2, st.stock(testProductID))
}

func TestImportCSVStorageFailureIsPerRow(t *testing.T) {
	svc, st, _, _ := newTestService()
	st.failOn("AdjustStock", 2)
	csv := "identifier,secret\na,1\nb,2\nc,3\n"

	report, err := svc.ImportCSV(context.Background(), testProductID, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 2, report.SuccessCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Row)
	assert.Equal(t, "failed to store account", report.Errors[0].Error)
	assert.Equal(t, 2, st.stock(testProductID))
}

func TestImportCSVMalformed(t *testing.T) {
	svc, st, _, _ := newTestService()

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"no secret column", "email,name\na@example.com,A\n"},
		{"broken quoting", "email,password\n\"a@example.com,pw\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ImportCSV(context.Background(), testProductID, strings.NewReader(tt.body))
			assert.Equal(t, models.KindValidation, models.KindOf(err))
			assert.Equal(t, models.CodeMalformedCSV, models.CodeOf(err))
		})
	}
	assert.Empty(t, st.all())
}

func TestImportCSVLimits(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.opts.ImportMaxRows = 2

	_, err := svc.ImportCSV(context.Background(), testProductID, strings.NewReader("email,password\na,1\nb,2\nc,3\n"))
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = svc.ImportCSV(context.Background(), 99, strings.NewReader("email,password\na,1\n"))
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}
