package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	dmyPattern   = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	isoPattern   = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	namedPattern = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)?\s+([A-Za-z]{3,9})\.?,?\s+(\d{4})`)

	uenPattern      = regexp.MustCompile(`\d{8,9}[A-Z]`)
	nonAmountChars  = regexp.MustCompile(`[^0-9.\-]`)
	currencyPattern = regexp.MustCompile(`\b(SGD|USD|EUR|MYR|GBP|AUD|JPY|CNY|HKD|IDR|INR)\b|S\$`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseDate normalizes DD/MM/YYYY, DD-MM-YYYY, YYYY-MM-DD and "DD Month YYYY"
// to YYYY-MM-DD. Text that matches none of them, or names an impossible
// date, is returned unchanged.
func ParseDate(raw string) string {
	text := strings.TrimSpace(raw)
	if m := isoPattern.FindStringSubmatch(text); m != nil {
		if d, ok := makeDate(m[1], m[2], m[3]); ok {
			return d
		}
	}
	if m := dmyPattern.FindStringSubmatch(text); m != nil {
		if d, ok := makeDate(m[3], m[2], m[1]); ok {
			return d
		}
	}
	if m := namedPattern.FindStringSubmatch(text); m != nil {
		if month, ok := monthByName(m[2]); ok {
			if d, ok := makeDate(m[3], strconv.Itoa(int(month)), m[1]); ok {
				return d
			}
		}
	}
	return text
}

// IsISODate reports whether s is already a valid YYYY-MM-DD date.
func IsISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func monthByName(name string) (time.Month, bool) {
	name = strings.ToLower(name)
	if m, ok := months[name]; ok {
		return m, true
	}
	if len(name) >= 3 {
		m, ok := months[name[:3]]
		if ok && strings.HasPrefix(strings.ToLower(m.String()), name) {
			return m, true
		}
	}
	return 0, false
}

func makeDate(y, m, d string) (string, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil || month < 1 || month > 12 || day < 1 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// ParseAmount keeps digits, '.' and '-' and parses the rest as a decimal.
// nil means no number was present, which is distinct from zero.
func ParseAmount(raw string) *float64 {
	d, ok := ParseDecimal(raw)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

// ParseDecimal is ParseAmount without the float conversion.
func ParseDecimal(raw string) (decimal.Decimal, bool) {
	cleaned := nonAmountChars.ReplaceAllString(raw, "")
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseIdentifier returns the first embedded business identifier in raw, or
// the trimmed raw text if none is found.
func ParseIdentifier(raw string) string {
	text := strings.TrimSpace(raw)
	if m := uenPattern.FindString(text); m != "" {
		return m
	}
	return text
}

// ParseCurrency picks an ISO currency code out of raw, treating "S$" as SGD.
func ParseCurrency(raw string) string {
	m := currencyPattern.FindString(strings.ToUpper(raw))
	if m == "S$" {
		return "SGD"
	}
	return m
}
