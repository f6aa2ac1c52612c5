package pixkey

import "strings"

// Mask hides the middle of an identifier for display. The result must never
// be used for matching or storage.
func Mask(raw string) string {
	value := Normalize(raw)
	keyType, ok := Classify(value)
	if !ok {
		return maskTail(value, 4)
	}

	switch keyType {
	case TypeEmail:
		at := strings.LastIndex(value, "@")
		local, domain := value[:at], value[at:]
		if len(local) <= 2 {
			return strings.Repeat("*", len(local)) + domain
		}
		return local[:2] + strings.Repeat("*", len(local)-2) + domain
	case TypePhone:
		// Country codes are 1 to 3 digits, so only "+" and the last 4 digits stay.
		return "+" + maskTail(value[1:], 4)
	case TypeCPF:
		return "***." + value[3:6] + "." + value[6:9] + "-**"
	case TypeCNPJ:
		return value[:2] + "." + value[2:5] + "." + value[5:8] + "/****-**"
	case TypeRandom:
		return value[:8] + "-****-****-****-********" + value[len(value)-4:]
	}
	return maskTail(value, 4)
}

func maskTail(value string, visible int) string {
	if len(value) <= visible {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-visible) + value[len(value)-visible:]
}
