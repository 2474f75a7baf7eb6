package normalize

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	contactSep = regexp.MustCompile(`[/,;|]+`)
	emailSep   = regexp.MustCompile(`[/,;|\s]+`)
	phoneJunk  = regexp.MustCompile(`[^\d+]`)
	allZeros   = regexp.MustCompile(`^\+?0+$`)
)

// CleanPhone returns the first valid phone number in s formatted as E.164,
// preferring mobile numbers. Numbers without a country code are read in
// region. A cell may hold several numbers separated by / , ; or |; when a
// chunk is not a valid number as a whole, its space-separated parts are
// tried one by one.
func CleanPhone(s, region string) string {
	var first string
	for _, chunk := range contactSep.Split(s, -1) {
		candidates := []string{chunk}
		if fields := strings.Fields(chunk); len(fields) > 1 {
			candidates = append(candidates, fields...)
		}
		for _, c := range candidates {
			num, ok := parsePhone(c, region)
			if !ok {
				continue
			}
			formatted := phonenumbers.Format(num, phonenumbers.E164)
			if phonenumbers.GetNumberType(num) == phonenumbers.MOBILE {
				return formatted
			}
			if first == "" {
				first = formatted
			}
			break
		}
	}
	return first
}

func parsePhone(raw, region string) (*phonenumbers.PhoneNumber, bool) {
	digits := phoneJunk.ReplaceAllString(raw, "")
	if strings.LastIndex(digits, "+") > 0 {
		digits = strings.ReplaceAll(digits, "+", "")
	}
	n := len(strings.TrimPrefix(digits, "+"))
	if n < 6 || n > 15 || allZeros.MatchString(digits) {
		return nil, false
	}

	attempts := []string{digits}
	if !strings.HasPrefix(digits, "+") {
		// Some exports drop the + in front of the country code.
		attempts = append(attempts, "+"+digits)
	}
	for _, a := range attempts {
		num, err := phonenumbers.Parse(a, region)
		if err == nil && phonenumbers.IsValidNumber(num) {
			return num, true
		}
	}
	return nil, false
}

// CleanEmail returns the first well-formed address in s, lowercased.
func CleanEmail(s string) string {
	for _, c := range emailSep.Split(strings.ToLower(s), -1) {
		if c == "" {
			continue
		}
		addr, err := mail.ParseAddress(c)
		if err != nil || addr.Address != c {
			continue
		}
		at := strings.LastIndexByte(c, '@')
		if !strings.Contains(c[at+1:], ".") || strings.HasSuffix(c, ".") {
			continue
		}
		return c
	}
	return ""
}
