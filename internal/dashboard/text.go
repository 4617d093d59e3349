package dashboard

import (
	"fmt"
	"io"
	"text/tabwriter"

	"screener/internal/domain"
)

// WriteText writes rows as an aligned plain-text table, or NoData when
// there are none.
func WriteText(w io.Writer, rows []domain.Row) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, NoData)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\tCHG%\tVOLUME\tRSI\tMACD\tSMA20\tSMA50\tSMA200\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Symbol,
			FormatPrice(r.Price),
			FormatChange(r.ChangePercent),
			FormatVolume(r.Volume),
			FormatIndicator(r.RSI),
			FormatIndicator(r.MACD),
			FormatPrice(r.SMA20),
			FormatPrice(r.SMA50),
			FormatPrice(r.SMA200),
		)
	}
	return tw.Flush()
}
