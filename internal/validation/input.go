package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation limits.
const (
	MinJobTitleLength       = 3
	MaxJobTitleLength       = 200
	MinJobDescriptionLength = 10
	MaxJobDescriptionLength = 5000
	MaxProposalTextLength   = 2000
	MaxProgressTextLength   = 2000
	MaxLocationLength       = 100
	MaxCategoryLength       = 50
	MinAmount               = int64(1)
	MaxAmount               = int64(100_000_000) // 100 million KES
)

// kenyanPhonePattern matches the accepted MSISDN forms: 07XXXXXXXX /
// 01XXXXXXXX, 2547XXXXXXXX / 2541XXXXXXXX, optionally plus-prefixed.
var kenyanPhonePattern = regexp.MustCompile(`^(?:\+?254|0)(7|1)\d{8}$`)

// ValidateLength checks a string's rune length against bounds.
func ValidateLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(strings.TrimSpace(value))
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", field, min)
	}
	if length > max {
		return fmt.Errorf("%s must be at most %d characters", field, max)
	}
	return nil
}

// ValidateAmount checks a money amount in whole KES.
func ValidateAmount(field string, amount int64) error {
	if amount < MinAmount {
		return fmt.Errorf("%s must be positive", field)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%s exceeds the maximum of %d", field, MaxAmount)
	}
	return nil
}

// ValidateBudgetRange checks an optional min/max budget pair.
func ValidateBudgetRange(min, max *int64) error {
	if min != nil {
		if err := ValidateAmount("budget_min", *min); err != nil {
			return err
		}
	}
	if max != nil {
		if err := ValidateAmount("budget_max", *max); err != nil {
			return err
		}
	}
	if min != nil && max != nil && *min > *max {
		return fmt.Errorf("budget_min cannot exceed budget_max")
	}
	return nil
}

// ValidatePhone checks a Kenyan mobile number in any accepted form.
func ValidatePhone(phone string) error {
	if !kenyanPhonePattern.MatchString(strings.TrimSpace(phone)) {
		return fmt.Errorf("phone must be a valid Kenyan mobile number")
	}
	return nil
}
