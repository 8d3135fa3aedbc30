package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	obsmetrics "github.com/smallbiznis/iuran/internal/observability/metrics"
	"github.com/smallbiznis/iuran/internal/providers/pdf"
	"github.com/smallbiznis/iuran/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var csvHeader = []string{"No.", "Member Name", "Unit", "Period", "Amount", "Status"}

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Dues      duesdomain.Service
	Directory directorydomain.Service
	Config    *config.DuesConfigHolder
	PDF       pdf.Provider
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	dues      duesdomain.Service
	directory directorydomain.Service
	cfg       *config.DuesConfigHolder
	pdf       pdf.Provider
	metrics   *obsmetrics.DuesMetrics
}

func New(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("report.service"),
		clock:     p.Clock,
		dues:      p.Dues,
		directory: p.Directory,
		cfg:       p.Config,
		pdf:       p.PDF,
		metrics:   obsmetrics.Dues(),
	}
}

func (s *Service) BuildReport(ctx context.Context, period string) (domain.Report, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveReport(time.Since(start).Seconds()) }()

	normalized, err := duesdomain.ParsePeriod(period)
	if err != nil {
		return domain.Report{}, err
	}

	max := s.cfg.Get().Report.MaxRecords
	// one extra row tells a full period from a truncated one
	records, err := s.dues.ListByPeriod(ctx, normalized, max+1)
	if err != nil {
		return domain.Report{}, err
	}
	report := domain.Report{Period: normalized, UnpaidList: []domain.UnpaidEntry{}}
	if len(records) > max {
		records = records[:max]
		report.Truncated = true
		s.log.Warn("report truncated", zap.String("period", normalized), zap.Int("max_records", max))
	}

	var unpaid []duesdomain.Record
	for _, r := range records {
		report.TotalBilled += r.Amount
		if r.Status == duesdomain.StatusPaid {
			report.TotalPaid += r.Amount
			continue
		}
		unpaid = append(unpaid, r)
	}
	report.RecordCount = len(records)
	report.Arrears = report.TotalBilled - report.TotalPaid
	if report.TotalBilled != 0 {
		report.PercentPaid = float64(report.TotalPaid) / float64(report.TotalBilled) * 100
	}

	if len(unpaid) == 0 {
		return report, nil
	}
	ids := make([]snowflake.ID, 0, len(unpaid))
	for _, r := range unpaid {
		ids = append(ids, r.MemberID)
	}
	members, err := s.directory.Names(ctx, ids)
	if err != nil {
		return domain.Report{}, fmt.Errorf("%w: resolve member names: %w", duesdomain.ErrUnavailable, err)
	}
	for _, r := range unpaid {
		entry := domain.UnpaidEntry{Record: r, MemberName: domain.UnknownMember}
		if m, ok := members[r.MemberID]; ok {
			entry.MemberName = m.DisplayName
			entry.Unit = m.Unit
		}
		report.UnpaidList = append(report.UnpaidList, entry)
	}
	return report, nil
}

func (s *Service) ExportArrears(ctx context.Context, r domain.Report) (domain.Export, error) {
	if len(r.UnpaidList) == 0 {
		return domain.Export{}, duesdomain.ErrEmptyExport
	}
	delimiter := []rune(s.cfg.Get().Export.Delimiter)
	if len(delimiter) != 1 {
		return domain.Export{}, domain.ErrMissingDelimiter
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter[0]
	if err := w.Write(csvHeader); err != nil {
		return domain.Export{}, err
	}
	for i, entry := range r.UnpaidList {
		row := []string{
			strconv.Itoa(i + 1),
			entry.MemberName,
			entry.Unit,
			entry.Record.Period,
			strconv.FormatInt(entry.Record.Amount, 10),
			string(entry.Record.Status),
		}
		if err := w.Write(row); err != nil {
			return domain.Export{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return domain.Export{}, err
	}

	return domain.Export{
		Filename:    Filename(r.Period, "csv"),
		ContentType: "text/csv; charset=utf-8",
		Body:        buf.Bytes(),
	}, nil
}

func (s *Service) ExportArrearsPDF(ctx context.Context, r domain.Report) (domain.Export, error) {
	if len(r.UnpaidList) == 0 {
		return domain.Export{}, duesdomain.ErrEmptyExport
	}

	data := pdf.ArrearsData{
		Title:       "Arrears report",
		Period:      r.Period,
		GeneratedAt: s.clock.Now().UTC().Format(time.RFC3339),
		TotalBilled: strconv.FormatInt(r.TotalBilled, 10),
		TotalPaid:   strconv.FormatInt(r.TotalPaid, 10),
		Arrears:     strconv.FormatInt(r.Arrears, 10),
		PercentPaid: strconv.FormatFloat(r.PercentPaid, 'f', 1, 64) + "%",
		Truncated:   r.Truncated,
		Rows:        make([]pdf.ArrearsRow, 0, len(r.UnpaidList)),
	}
	for i, entry := range r.UnpaidList {
		data.Rows = append(data.Rows, pdf.ArrearsRow{
			No:         i + 1,
			MemberName: entry.MemberName,
			Unit:       entry.Unit,
			Period:     entry.Record.Period,
			Amount:     strconv.FormatInt(entry.Record.Amount, 10),
			Status:     string(entry.Record.Status),
		})
	}

	reader, err := s.pdf.GenerateArrears(ctx, data)
	if err != nil {
		return domain.Export{}, fmt.Errorf("render arrears pdf: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return domain.Export{}, err
	}
	return domain.Export{
		Filename:    Filename(r.Period, "pdf"),
		ContentType: "application/pdf",
		Body:        body,
	}, nil
}

// Filename returns arrears-<period>.<ext>.
func Filename(period, ext string) string {
	return slug.Make("arrears-"+period) + "." + ext
}
