package dashboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"screener/internal/domain"
)

// Placeholder is rendered for any value the source did not supply.
const Placeholder = "--"

// NoData is rendered once in place of the rows of an empty table.
const NoData = "NO_MATCHING_DATA_FOUND"

// FormatPrice renders a price with thousands separators and between 2 and 8
// fraction digits, or Placeholder when absent. An explicit zero renders as
// "0.00".
func FormatPrice(v domain.Value) string {
	p, ok := v.Get()
	if !ok {
		return Placeholder
	}
	return formatPrice(p, maxPriceDigits)
}

// FormatPriceFit renders like FormatPrice, rounding away fraction digits
// until the text is at most width runes. A whole part that still does not
// fit is shown with a K/M/B suffix.
func FormatPriceFit(v domain.Value, width int) string {
	p, ok := v.Get()
	if !ok {
		return Placeholder
	}
	for places := int32(maxPriceDigits); places >= 0; places-- {
		if s := formatPrice(p, places); len(s) <= width {
			return s
		}
	}
	return compact(p)
}

const maxPriceDigits = 8

func formatPrice(p float64, places int32) string {
	s := decimal.NewFromFloat(p).Round(places).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	for len(frac) < min(2, int(places)) {
		frac += "0"
	}
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = humanize.Comma(n)
	}
	if neg {
		whole = "-" + whole
	}
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// FormatChange renders a signed percentage, e.g. "+2.45%".
func FormatChange(v domain.Value) string {
	c, ok := v.Get()
	if !ok {
		return Placeholder
	}
	if c >= 0 {
		return fmt.Sprintf("+%.2f%%", c)
	}
	return fmt.Sprintf("%.2f%%", c)
}

// Positive reports the visual polarity of a change: >= 0 is positive.
func Positive(v domain.Value) bool {
	return v.Or(0) >= 0
}

// FormatVolume renders numeric volume with B/M/K suffixes and passes
// pre-formatted text through.
func FormatVolume(v domain.Volume) string {
	if v.Text != "" && !v.Num.Valid() {
		return v.Text
	}
	f, ok := v.Num.Get()
	if !ok {
		return Placeholder
	}
	return compact(f)
}

// compact abbreviates f with a B/M/K suffix once it reaches a thousand.
func compact(f float64) string {
	a := math.Abs(f)
	switch {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", f/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", f/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%.1fK", f/1e3)
	default:
		return humanize.Comma(int64(f))
	}
}

// FormatIndicator renders an indicator value with two decimals.
func FormatIndicator(v domain.Value) string {
	f, ok := v.Get()
	if !ok {
		return Placeholder
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
