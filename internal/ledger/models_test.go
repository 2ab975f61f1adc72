package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() Record {
	return Record{
		AccountCode:    "1000",
		AccountName:    "Cash",
		Balance:        1250.50,
		Classification: ClassificationBalanceSheet,
		Status:         StatusPendingReview,
		Criticality:    CriticalityStandard,
		Currency:       "USD",
		Entity:         "acme",
		Period:         "2024-01",
	}
}

func TestRecordValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("valid record passes", func(t *testing.T) {
		r := validRecord()
		require.NoError(t, r.Validate())
	})

	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr error
	}{
		{
			name:    "empty account code",
			mutate:  func(r *Record) { r.AccountCode = "" },
			wantErr: ErrAccountCodeEmpty,
		},
		{
			name:    "account code too short",
			mutate:  func(r *Record) { r.AccountCode = "123" },
			wantErr: ErrAccountCodeFormat,
		},
		{
			name:    "account code with letters",
			mutate:  func(r *Record) { r.AccountCode = "10A0" },
			wantErr: ErrAccountCodeFormat,
		},
		{
			name:    "empty entity",
			mutate:  func(r *Record) { r.Entity = "  " },
			wantErr: ErrEntityEmpty,
		},
		{
			name:    "empty period",
			mutate:  func(r *Record) { r.Period = "" },
			wantErr: ErrPeriodEmpty,
		},
		{
			name:    "period with invalid month",
			mutate:  func(r *Record) { r.Period = "2024-13" },
			wantErr: ErrPeriodFormat,
		},
		{
			name:    "period without dash",
			mutate:  func(r *Record) { r.Period = "202401" },
			wantErr: ErrPeriodFormat,
		},
		{
			name:    "unknown classification",
			mutate:  func(r *Record) { r.Classification = "XX" },
			wantErr: ErrClassificationInvalid,
		},
		{
			name:    "unknown status",
			mutate:  func(r *Record) { r.Status = "archived" },
			wantErr: ErrStatusInvalid,
		},
		{
			name:    "unknown criticality",
			mutate:  func(r *Record) { r.Criticality = "urgent" },
			wantErr: ErrCriticalityInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)

			require.ErrorIs(t, r.Validate(), tt.wantErr)
		})
	}
}

func TestRecordKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := validRecord()
	assert.Equal(t, "1000/acme/2024-01", r.Key())
}

func TestIsValidAccountCode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.True(t, IsValidAccountCode("1000"))
	assert.True(t, IsValidAccountCode("0042"))
	assert.True(t, IsValidAccountCode("1234567890"))
	assert.False(t, IsValidAccountCode("123"))
	assert.False(t, IsValidAccountCode("12345678901"))
	assert.False(t, IsValidAccountCode("1000.0"))
	assert.False(t, IsValidAccountCode(""))
}

func TestIsValidPeriod(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.True(t, IsValidPeriod("2024-01"))
	assert.True(t, IsValidPeriod("1999-12"))
	assert.False(t, IsValidPeriod("2024-00"))
	assert.False(t, IsValidPeriod("2024-13"))
	assert.False(t, IsValidPeriod("2024-1"))
	assert.False(t, IsValidPeriod("24-01"))
}

func TestEventTypeIsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, et := range []EventType{
		EventFileIngested, EventValidationCompleted, EventRecordAssigned, EventErrorOccurred,
	} {
		assert.True(t, et.IsValid(), et.String())
	}

	assert.False(t, EventType("file_deleted").IsValid())
}
