package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrNoRows = errors.New("no arrears rows")

type ArrearsData struct {
	Title       string
	Period      string
	GeneratedAt string

	TotalBilled string
	TotalPaid   string
	Arrears     string
	PercentPaid string
	Truncated   bool

	Rows []ArrearsRow
}

type ArrearsRow struct {
	No         int
	MemberName string
	Unit       string
	Period     string
	Amount     string
	Status     string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateArrears(ctx context.Context, data ArrearsData) (io.Reader, error) {
	if len(data.Rows) == 0 {
		return nil, ErrNoRows
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, data.Title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		col.New(4).Add(
			text.New("Period: "+data.Period, props.Text{Align: align.Right}),
			text.New("Generated: "+data.GeneratedAt, props.Text{Top: 5, Align: align.Right, Size: 8}),
		),
	)

	m.AddRow(20,
		col.New(3).Add(
			text.New("Total billed", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.TotalBilled, props.Text{Top: 5, Size: 9}),
		),
		col.New(3).Add(
			text.New("Total paid", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.TotalPaid, props.Text{Top: 5, Size: 9}),
		),
		col.New(3).Add(
			text.New("Arrears", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.Arrears, props.Text{Top: 5, Size: 9}),
		),
		col.New(3).Add(
			text.New("Paid", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.PercentPaid, props.Text{Top: 5, Size: 9}),
		),
	)

	if data.Truncated {
		m.AddRow(8,
			text.NewCol(12, "Record limit reached; totals cover a partial period.", props.Text{Size: 8, Style: fontstyle.Italic}),
		)
	}

	m.AddRow(10,
		text.NewCol(1, "No.", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Member Name", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Unit", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Period", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, row := range data.Rows {
		m.AddRow(8,
			text.NewCol(1, fmt.Sprintf("%d", row.No), props.Text{Size: 9}),
			text.NewCol(4, row.MemberName, props.Text{Size: 9}),
			text.NewCol(2, row.Unit, props.Text{Size: 9}),
			text.NewCol(1, row.Period, props.Text{Size: 9}),
			text.NewCol(2, row.Amount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, row.Status, props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
