package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData carries pre-formatted strings; the caller owns amount and date
// formatting so the renderer never touches money math.
type ReceiptData struct {
	BusinessName  string
	ReceiptNumber string
	DatePaid      string
	Description   string
	CustomerEmail string

	AmountPaid  string
	CardSummary string
	FeeAmount   string

	Refunds   []ReceiptRefund
	NetAmount string

	TestMode bool
}

type ReceiptRefund struct {
	RefundID string
	Date     string
	Reason   string
	Amount   string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.BusinessName, props.Text{
			Size:  11,
			Align: align.Right,
			Top:   4,
		}),
	)

	if data.TestMode {
		m.AddRow(10,
			text.NewCol(12, "TEST MODE", props.Text{
				Size:  10,
				Style: fontstyle.Bold,
				Align: align.Left,
			}),
		)
	}

	m.AddRow(24,
		col.New(8).Add(
			text.New("Receipt number: "+data.ReceiptNumber, props.Text{Top: 0, Size: 9}),
			text.New("Date paid: "+data.DatePaid, props.Text{Top: 5, Size: 9}),
			text.New("Billed to: "+data.CustomerEmail, props.Text{Top: 10, Size: 9}),
		),
		col.New(4),
	)

	m.AddRow(15,
		text.NewCol(12, data.AmountPaid+" paid on "+data.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   3,
		}),
	)

	if data.CardSummary != "" {
		m.AddRow(8,
			text.NewCol(12, "Paid with "+data.CardSummary, props.Text{Size: 9}),
		)
	}

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(12,
		text.NewCol(8, data.Description, props.Text{Size: 9}),
		text.NewCol(4, data.AmountPaid, props.Text{Size: 9, Align: align.Right}),
	)

	if data.FeeAmount != "" {
		m.AddRow(8,
			text.NewCol(8, "Processing fee", props.Text{Size: 9}),
			text.NewCol(4, data.FeeAmount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	if len(data.Refunds) > 0 {
		m.AddRow(12,
			text.NewCol(12, "Refunds", props.Text{Style: fontstyle.Bold, Size: 10, Top: 3}),
		)
		m.AddRow(8,
			text.NewCol(4, "Refund", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, "Reason", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		)
		for _, refund := range data.Refunds {
			m.AddRow(8,
				text.NewCol(4, refund.RefundID, props.Text{Size: 8}),
				text.NewCol(3, refund.Date, props.Text{Size: 8}),
				text.NewCol(3, refund.Reason, props.Text{Size: 8}),
				text.NewCol(2, refund.Amount, props.Text{Size: 8, Align: align.Right}),
			)
		}
		m.AddRow(10,
			col.New(8),
			text.NewCol(2, "Net", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, data.NetAmount, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
