package review

import "strings"

// NormalizePhone canonicalizes an Iranian mobile number to +98XXXXXXXXXX.
// Accepted input forms: 0098..., +98..., 98..., 09XXXXXXXXX and the bare
// 10-digit local form. Persian and Arabic-Indic digits are translated.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	if len(digits) == 11 && strings.HasPrefix(digits, "0") {
		digits = digits[1:]
	}
	if len(digits) == 10 {
		digits = "98" + digits
	}
	if len(digits) != 12 || !strings.HasPrefix(digits, "98") {
		return "", &ValidationError{Msg: "phone number must be a valid Iranian mobile number"}
	}
	return "+" + digits, nil
}
