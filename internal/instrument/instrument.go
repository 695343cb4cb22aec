// Package instrument handles option instrument name parsing, validation,
// and formatting. Names follow the exchange convention
//
//	{UNDERLYING}-{DDMMMYY}-{STRIKE}-{C|P}
//
// for example SPX-19DEC25-5500-C: a call on SPX struck at 5500 expiring
// 19 Dec 2025. Underlying instruments carry no suffix sections and are
// referenced by their bare epic (for example IX.D.SPTRD.IFS.IP).
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Option type segments.
const (
	TypeCall = "CALL"
	TypePut  = "PUT"
)

var ErrInvalidName = errors.New("instrument: invalid option instrument name")

// nameRegex matches: {UNDERLYING}-{DDMMMYY}-{STRIKE}-{C|P}
// Example: SPX-19DEC25-5500-C, BTC-13MAR26-75000.5-P
var nameRegex = regexp.MustCompile(
	`^([A-Z0-9.]+)-(\d{2}[A-Z]{3}\d{2})-(\d+(?:\.\d+)?)-([CP])$`,
)

// Option is a parsed option instrument name.
type Option struct {
	Name       string          `json:"name"`
	Underlying string          `json:"underlying"`
	Expiry     time.Time       `json:"expiry"`
	Strike     decimal.Decimal `json:"strike"`
	Type       string          `json:"type"` // TypeCall or TypePut
}

// Parse parses and validates an option instrument name.
func Parse(name string) (*Option, error) {
	matches := nameRegex.FindStringSubmatch(name)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {UNDERLYING}-{DDMMMYY}-{STRIKE}-{C|P})",
			ErrInvalidName, name)
	}

	expiry, err := time.Parse("02Jan06", titleMonth(matches[2]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry %s", ErrInvalidName, matches[2])
	}

	strike, err := decimal.NewFromString(matches[3])
	if err != nil || !strike.IsPositive() {
		return nil, fmt.Errorf("%w: bad strike %s", ErrInvalidName, matches[3])
	}

	optType := TypeCall
	if matches[4] == "P" {
		optType = TypePut
	}

	return &Option{
		Name:       name,
		Underlying: matches[1],
		Expiry:     expiry,
		Strike:     strike,
		Type:       optType,
	}, nil
}

// Format is the inverse of Parse. optType accepts "CALL"/"PUT" or the
// single-letter form.
func Format(underlying string, expiry time.Time, strike decimal.Decimal, optType string) string {
	suffix := "C"
	if strings.HasPrefix(strings.ToUpper(optType), "P") {
		suffix = "P"
	}
	date := strings.ToUpper(expiry.Format("02Jan06"))
	return fmt.Sprintf("%s-%s-%s-%s", strings.ToUpper(underlying), date, strike.String(), suffix)
}

// Underlying returns the underlying symbol segment of a name, or the
// whole name for non-option instruments. Used to group hedge exposure
// by underlying.
func Underlying(name string) string {
	if opt, err := Parse(name); err == nil {
		return opt.Underlying
	}
	if i := strings.IndexByte(name, '-'); i > 0 {
		return name[:i]
	}
	return name
}

// titleMonth converts 19DEC25 to 19Dec25 so time.Parse accepts it.
func titleMonth(s string) string {
	if len(s) != 7 {
		return s
	}
	return s[:3] + strings.ToLower(s[3:5]) + s[5:]
}
