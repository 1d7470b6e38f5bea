package catalog

import (
	"fmt"
	"strconv"
	"time"
)

// oneupWidth is the zero-padded width of oneup suffixes.
const oneupWidth = 6

// NextSuffix computes the suffix for the next repository.
//
// StyleOneup increments the last issued suffix: "000041" -> "000042".
// An empty last suffix starts the series at "000001".
//
// StyleDate formats year and month as "2024.03". Zero year/month default
// to the current UTC date.
func NextSuffix(style SuffixStyle, last string, year, month int) (string, error) {
	switch style {
	case StyleOneup:
		n := 0
		if last != "" {
			parsed, err := strconv.Atoi(last)
			if err != nil {
				return "", NewError(ErrActionFailed, "next suffix",
					fmt.Sprintf("last suffix %q is not numeric", last))
			}
			n = parsed
		}
		return fmt.Sprintf("%0*d", oneupWidth, n+1), nil

	case StyleDate:
		if year == 0 || month == 0 {
			now := time.Now().UTC()
			if year == 0 {
				year = now.Year()
			}
			if month == 0 {
				month = int(now.Month())
			}
		}
		if month < 1 || month > 12 {
			return "", NewError(ErrActionFailed, "next suffix",
				fmt.Sprintf("month %d out of range", month))
		}
		return fmt.Sprintf("%04d.%02d", year, month), nil

	default:
		return "", NewError(ErrActionFailed, "next suffix",
			fmt.Sprintf("unknown suffix style %q", style))
	}
}
