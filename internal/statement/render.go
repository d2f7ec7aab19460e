package statement

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const dateLayout = "2006-01-02 15:04"

// Render builds the statement for [from, to) and returns it as a PDF.
func (s *Service) Render(ctx context.Context, accountID string, from, to time.Time) (io.Reader, error) {
	st, err := s.Build(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	return RenderPDF(st)
}

func RenderPDF(st *Statement) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(12, "Credit statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(8).Add(
			text.New("Account: "+st.AccountID, props.Text{Top: 0}),
			text.New("Period: "+st.From.Format(dateLayout)+" to "+st.To.Format(dateLayout)+" UTC", props.Text{Top: 5}),
		),
		col.New(4).Add(
			text.New("Opening balance: "+st.Opening.String(), props.Text{Top: 0, Align: align.Right}),
			text.New("Closing balance: "+st.Closing.String(), props.Text{Top: 5, Align: align.Right, Style: fontstyle.Bold}),
		),
	)

	header := props.Text{Style: fontstyle.Bold, Size: 9}
	headerRight := props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}
	m.AddRow(10,
		text.NewCol(3, "Date", header),
		text.NewCol(5, "Description", header),
		text.NewCol(2, "Amount", headerRight),
		text.NewCol(2, "Balance", headerRight),
	)

	cell := props.Text{Size: 8}
	cellRight := props.Text{Size: 8, Align: align.Right}
	if len(st.Lines) == 0 {
		m.AddRow(8, text.NewCol(12, "No transactions in this period.", cell))
	}
	for _, line := range st.Lines {
		m.AddRow(7,
			text.NewCol(3, line.Date.UTC().Format(dateLayout), cell),
			text.NewCol(5, line.Description, cell),
			text.NewCol(2, line.Amount.String(), cellRight),
			text.NewCol(2, line.BalanceAfter.String(), cellRight),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Credited", props.Text{Size: 9}),
		text.NewCol(2, st.Credited.String(), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Debited", props.Text{Size: 9}),
		text.NewCol(2, st.Debited.String(), props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
