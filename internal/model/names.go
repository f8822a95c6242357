package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// sheetHostileChars are stripped from category names. The timesheet site
// renders job titles containing them, but workbook sheet names cannot hold
// them, so both sides compare the stripped form.
const sheetHostileChars = `/\?*[]:`

// MaxCategoryName is the longest sheet name a workbook accepts.
const MaxCategoryName = 31

// SanitizeName strips sheet-hostile characters and surrounding space.
func SanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(sheetHostileChars, r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// ValidateCategoryName returns the sanitized name or a validation error.
func ValidateCategoryName(name string) (string, error) {
	clean := strings.Trim(SanitizeName(name), "'")
	if clean == "" {
		return "", fmt.Errorf("%w: category name is empty", ErrValidation)
	}
	if utf8.RuneCountInString(clean) > MaxCategoryName {
		return "", fmt.Errorf("%w: category name %q exceeds %d characters", ErrValidation, clean, MaxCategoryName)
	}
	return clean, nil
}

// FitCategoryName sanitizes a job title read from the site and cuts it to
// MaxCategoryName runes. The result is a prefix of the sanitized heading, so
// it still matches that heading by substring.
func FitCategoryName(title string) string {
	clean := strings.Trim(SanitizeName(title), "'")
	if utf8.RuneCountInString(clean) <= MaxCategoryName {
		return clean
	}
	return strings.TrimSpace(string([]rune(clean)[:MaxCategoryName]))
}
