package utils

import "strings"

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return MaskTail(email, 0)
	}
	local, domain := email[:at], email[at+1:]
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	return MaskTail(strings.TrimSpace(phone), 4)
}

// MaskTail replaces every rune but the last keep ones with '*'.
func MaskTail(s string, keep int) string {
	r := []rune(s)
	if len(r) <= keep {
		return s
	}
	for i := 0; i < len(r)-keep; i++ {
		r[i] = '*'
	}
	return string(r)
}
