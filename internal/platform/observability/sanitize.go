package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// piiFields are event field names whose values identify a shopper.
var piiFields = map[string]struct{}{
	"email":          {},
	"customer_email": {},
	"phone":          {},
}

// sanitizeString drops control characters other than whitespace and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern or path for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}

// MaskEmail keeps the first rune of the local part and the domain: "t***@example.jp".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	first := []rune(local)[0]
	return sanitizeString(string(first)+"***@"+domain, 128)
}

// redactField masks values of shopper-identifying fields and passes everything else through.
func redactField(key string, value any) any {
	if _, ok := piiFields[strings.ToLower(key)]; !ok {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return "***"
	}
	if strings.Contains(s, "@") {
		return MaskEmail(s)
	}
	return "***"
}
