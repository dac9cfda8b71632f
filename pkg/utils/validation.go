package utils

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	MaxEmailLength    = 254
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

var (
	emailRegex       = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	passwordSpecials = `!@#$%^&*(),.?":{}|<>`
	commonPasswords  = []*regexp.Regexp{
		regexp.MustCompile(`123456`),
		regexp.MustCompile(`(?i)password`),
		regexp.MustCompile(`(?i)qwerty`),
		regexp.MustCompile(`(?i)admin`),
		regexp.MustCompile(`(?i)letmein`),
		regexp.MustCompile(`(?i)welcome`),
	}
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidEmail checks format plus the dot placement rules the regex misses
func IsValidEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	if !emailRegex.MatchString(email) {
		return false
	}
	if strings.Contains(email, "..") || strings.HasPrefix(email, ".") || strings.HasSuffix(email, ".") {
		return false
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	return !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// ValidateEmail returns a ValidationError for a missing or malformed email
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "Email is required"}
	}
	if !IsValidEmail(email) {
		return &ValidationError{Field: "email", Message: "Please enter a valid email address"}
	}
	return nil
}

// NormalizeEmail converts email to lowercase for storage and as an identifier
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidPhone accepts 10-15 digits once formatting is stripped, not
// starting with 0
func IsValidPhone(phone string) bool {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()
	if len(clean) < 10 || len(clean) > 15 {
		return false
	}
	return clean[0] != '0'
}

// PasswordStrength grades a password that already passed validation
type PasswordStrength string

const (
	StrengthWeak       PasswordStrength = "weak"
	StrengthMedium     PasswordStrength = "medium"
	StrengthStrong     PasswordStrength = "strong"
	StrengthVeryStrong PasswordStrength = "very-strong"
)

// PasswordCheck is the outcome of ValidatePassword
type PasswordCheck struct {
	IsValid  bool             `json:"is_valid"`
	Errors   []string         `json:"errors"`
	Strength PasswordStrength `json:"strength"`
}

// ValidatePassword applies length, character class, common pattern and
// repetition rules. Strength is graded only for valid passwords.
func ValidatePassword(password string) PasswordCheck {
	var errs []string
	n := len([]rune(password))

	if n < MinPasswordLength {
		errs = append(errs, "Password must be at least 6 characters long")
	}
	if n > MaxPasswordLength {
		errs = append(errs, "Password is too long (maximum 128 characters)")
	}

	lower, upper, digit, _ := charClasses(password)
	if !upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !digit {
		errs = append(errs, "Password must contain at least one number")
	}

	for _, p := range commonPasswords {
		if p.MatchString(password) {
			errs = append(errs, "Password contains common patterns that are easy to guess")
			break
		}
	}
	if hasRun(password, 3) {
		errs = append(errs, "Password cannot contain 3 or more consecutive identical characters")
	}

	check := PasswordCheck{IsValid: len(errs) == 0, Errors: errs, Strength: StrengthWeak}
	if check.IsValid {
		switch score := passwordScore(password); {
		case score >= 90:
			check.Strength = StrengthVeryStrong
		case score >= 75:
			check.Strength = StrengthStrong
		case score >= 60:
			check.Strength = StrengthMedium
		}
	}
	return check
}

// Err converts a failed check into a ValidationError
func (c PasswordCheck) Err() error {
	if c.IsValid {
		return nil
	}
	return &ValidationError{Field: "password", Message: c.Errors[0]}
}

func passwordScore(password string) int {
	n := len([]rune(password))
	score := 0
	if n >= 6 {
		score += 20
	}
	if n >= 12 {
		score += 10
	}
	if n >= 16 {
		score += 10
	}

	lower, upper, digit, special := charClasses(password)
	if lower {
		score += 10
	}
	if upper {
		score += 10
	}
	if digit {
		score += 10
	}
	if special {
		score += 5
	}
	if lower && upper && digit {
		score += 15
	}

	unique := make(map[rune]struct{})
	for _, r := range password {
		unique[r] = struct{}{}
	}
	if len(unique) >= 8 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

func charClasses(s string) (lower, upper, digit, special bool) {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	return
}

// hasRun reports whether s contains n or more consecutive identical runes
func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for i, r := range s {
		if i > 0 && r == prev {
			count++
		} else {
			count = 1
		}
		if count >= n {
			return true
		}
		prev = r
	}
	return false
}
