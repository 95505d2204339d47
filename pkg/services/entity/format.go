// Package entity verifies business identifiers (UENs) against the registry,
// with a bounded local cache and layered fallback sources.
package entity

import (
	"regexp"
	"strconv"
	"strings"
)

// Format is a recognized UEN shape.
type Format string

const (
	FormatNone         Format = ""
	FormatBusiness     Format = "business"
	FormatLocalCompany Format = "local_company"
	FormatOtherEntity  Format = "other_entity"
	FormatVCC          Format = "variable_capital_company"
)

type formatRule struct {
	format     Format
	pattern    *regexp.Regexp
	entityType string
}

// Checked in order: a 9-digit local company number also fits the business
// shape, so the more specific rule comes first.
var formatRules = []formatRule{
	{FormatLocalCompany, regexp.MustCompile(`^\d{4}\d{5}[A-Z]$`), "Local Company"},
	{FormatBusiness, regexp.MustCompile(`^\d{8,9}[A-Z]$`), "Business"},
	{FormatOtherEntity, regexp.MustCompile(`^[A-Z]\d{2}[A-Z]{2}\d{4}[A-Z]$`), "Other Entity"},
	{FormatVCC, regexp.MustCompile(`^\d{4}[A-Z]{5}[A-Z]$`), "Variable Capital Company"},
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

// Normalize upper-cases id and strips everything but letters and digits.
func Normalize(id string) string {
	return nonAlnum.ReplaceAllString(strings.ToUpper(id), "")
}

// DetectFormat returns the shape of an already normalized UEN.
func DetectFormat(uen string) Format {
	for _, r := range formatRules {
		if r.pattern.MatchString(uen) {
			return r.format
		}
	}
	return FormatNone
}

// IsValidFormat reports whether id, once normalized, has a recognized shape.
func IsValidFormat(id string) bool {
	return DetectFormat(Normalize(id)) != FormatNone
}

// EntityType is the display name of a format.
func EntityType(f Format) string {
	for _, r := range formatRules {
		if r.format == f {
			return r.entityType
		}
	}
	return ""
}

// registrationYear extracts the year embedded in a UEN, if its format has one.
// Other-entity UENs encode the century in the prefix letter: R=18xx, S=19xx,
// T=20xx.
func registrationYear(uen string) (int, bool) {
	switch DetectFormat(uen) {
	case FormatLocalCompany, FormatVCC:
		y, err := strconv.Atoi(uen[:4])
		return y, err == nil
	case FormatOtherEntity:
		yy, err := strconv.Atoi(uen[1:3])
		if err != nil {
			return 0, false
		}
		switch uen[0] {
		case 'R':
			return 1800 + yy, true
		case 'S':
			return 1900 + yy, true
		case 'T':
			return 2000 + yy, true
		}
	}
	return 0, false
}
