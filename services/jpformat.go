package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Japanese-locale parsers for submitted field values. Each format variant is
// a small pure function so the mappers stay free of locale regexes.

// eraBase maps era names and their single-letter abbreviations to the
// western year of the era's year 1, minus one.
var eraBase = map[string]int{
	"令和": 2018, "R": 2018,
	"平成": 1988, "H": 1988,
	"昭和": 1925, "S": 1925,
}

var (
	eraKanjiRe   = regexp.MustCompile(`^(令和|平成|昭和)(元|\d{1,2})年(\d{1,2})月(\d{1,2})日?$`)
	eraShortRe   = regexp.MustCompile(`^([RHS])(\d{1,2})\.(\d{1,2})\.(\d{1,2})$`)
	westKanjiRe  = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日?$`)
	westSlashRe  = regexp.MustCompile(`^(\d{4})[/-](\d{1,2})[/-](\d{1,2})$`)
	yenRe        = regexp.MustCompile(`^[¥￥]?([0-9,，]+)円?$`)
	fullWidthMap = strings.NewReplacer(
		"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
		"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
		"．", ".", "／", "/", "　", "",
	)
)

// NormalizeDigits converts full-width digits and separators to ASCII and
// trims surrounding whitespace.
func NormalizeDigits(s string) string {
	return strings.TrimSpace(fullWidthMap.Replace(s))
}

// ParseEraDate parses a Japanese era-based or western date string.
// Accepted variants: 令和6年5月1日, 平成元年1月8日, R6.5.1, 2024年5月1日,
// 2024-05-01, 2024/5/1. Full-width digits are tolerated everywhere.
func ParseEraDate(s string) (time.Time, error) {
	s = NormalizeDigits(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if m := eraKanjiRe.FindStringSubmatch(s); m != nil {
		year := 1
		if m[2] != "元" {
			year, _ = strconv.Atoi(m[2])
		}
		return eraDate(eraBase[m[1]], year, m[3], m[4])
	}
	if m := eraShortRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[2])
		return eraDate(eraBase[m[1]], year, m[3], m[4])
	}
	if m := westKanjiRe.FindStringSubmatch(s); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	if m := westSlashRe.FindStringSubmatch(s); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

func eraDate(base, eraYear int, monthStr, dayStr string) (time.Time, error) {
	if eraYear < 1 {
		return time.Time{}, fmt.Errorf("era year out of range: %d", eraYear)
	}
	return civilDate(strconv.Itoa(base+eraYear), monthStr, dayStr)
}

func civilDate(yearStr, monthStr, dayStr string) (time.Time, error) {
	year, _ := strconv.Atoi(yearStr)
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("date out of range: %04d-%02d-%02d", year, month, day)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// ParseYenAmount parses a currency amount such as 1,234円, ¥1,234 or
// １２３４円 into an integer number of yen.
func ParseYenAmount(s string) (int64, error) {
	s = NormalizeDigits(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	m := yenRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognized amount format: %q", s)
	}
	digits := strings.NewReplacer(",", "", "，", "").Replace(m[1])
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount not numeric: %q", s)
	}
	return v, nil
}
