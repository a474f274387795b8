package nse

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantbolt/nsedata/internal/apperror"
)

const (
	expiryDateFormat = "02-Jan-2006" // as served by the expiry endpoint
	queryDateFormat  = "02-01-2006"  // as the chain endpoint expects

	lookbackDays  = 60
	lookaheadDays = 1
)

// Window is the [start, end] query range derived from one expiry date,
// carrying the expiry's own calendar year. It is recomputed per expiry and
// never cached.
type Window struct {
	Start string
	End   string
	Year  int
}

// ComputeWindow derives the chain query window for one expiry date: sixty
// days of lookback to one day past expiry, re-emitted in the day-month-year
// form the chain endpoint requires. A malformed date is a parse error — the
// caller skips that expiry and continues, never aborting the run.
func ComputeWindow(expiry string) (Window, error) {
	t, err := time.Parse(expiryDateFormat, normalizeExpiry(expiry))
	if err != nil {
		return Window{}, apperror.New(apperror.Parse, fmt.Sprintf("parse expiry date %q: %v", expiry, err))
	}
	return Window{
		Start: t.AddDate(0, 0, -lookbackDays).Format(queryDateFormat),
		End:   t.AddDate(0, 0, lookaheadDays).Format(queryDateFormat),
		Year:  t.Year(),
	}, nil
}

// normalizeExpiry folds the month token to the "Jan" casing time.Parse
// demands; NSE has served both "25-Jan-2024" and "25-JAN-2024" over the
// years.
func normalizeExpiry(s string) string {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[1] == "" {
		return s
	}
	month := strings.ToLower(parts[1])
	parts[1] = strings.ToUpper(month[:1]) + month[1:]
	return strings.Join(parts, "-")
}
