package logger

import "regexp"

// phoneRegex finds E.164 numbers embedded in free text.
var phoneRegex = regexp.MustCompile(`\+\d{9,15}`)

// RedactPhone keeps the first four and last two characters:
// "+573001234567" becomes "+573*******67". Values of six characters or
// fewer are masked entirely.
func RedactPhone(phone string) string {
	if len(phone) <= 6 {
		return "******"
	}
	masked := []byte(phone)
	for i := 4; i < len(masked)-2; i++ {
		masked[i] = '*'
	}
	return string(masked)
}
