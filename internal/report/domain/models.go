package domain

import (
	"context"
	"errors"

	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
)

// UnknownMember names records whose member is missing from the directory.
const UnknownMember = "unknown member"

type UnpaidEntry struct {
	Record     duesdomain.Record `json:"record"`
	MemberName string            `json:"member_name"`
	Unit       string            `json:"unit,omitempty"`
}

// Report is derived from one period's records and never stored.
type Report struct {
	Period      string        `json:"period"`
	RecordCount int           `json:"record_count"`
	TotalBilled int64         `json:"total_billed"`
	TotalPaid   int64         `json:"total_paid"`
	Arrears     int64         `json:"arrears"`
	PercentPaid float64       `json:"percent_paid"`
	UnpaidList  []UnpaidEntry `json:"unpaid_list"`
	// Truncated is set when the period has more records than the query bound.
	Truncated bool `json:"truncated"`
}

type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type Service interface {
	BuildReport(ctx context.Context, period string) (Report, error)
	// ExportArrears renders r.UnpaidList as delimited text.
	ExportArrears(ctx context.Context, r Report) (Export, error)
	ExportArrearsPDF(ctx context.Context, r Report) (Export, error)
}

var ErrMissingDelimiter = errors.New("missing_delimiter")
