package audit

import "strings"

const maskedPassword = "********"

// MaskEmail keeps the first three characters of the local part.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 {
		return email
	}
	return email[:min(3, at)] + "****" + email[at:]
}

// MaskToken keeps the first ten and last four characters of a JWT.
func MaskToken(token string) string {
	if !strings.Contains(token, ".") || len(token) < 14 {
		return token
	}
	return token[:10] + "..." + token[len(token)-4:]
}

// MaskCardNumber keeps the last four digits.
func MaskCardNumber(number string) string {
	if len(number) < 4 {
		return "****"
	}
	return "****-****-****-" + number[len(number)-4:]
}

func MaskPassword(string) string { return maskedPassword }
