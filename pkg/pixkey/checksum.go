package pixkey

var (
	cnpjFirstWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjSecondWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCPF verifies an 11-digit CPF. Both check digits use descending
// weights (10..2, then 11..2); a result of 10 or 11 becomes 0.
// Strings made of a single repeated digit are always rejected.
func ValidCPF(digits string) bool {
	if len(digits) != 11 || !allDigits(digits) || repeated(digits) {
		return false
	}

	first := cpfCheckDigit(digits[:9], 10)
	if first != int(digits[9]-'0') {
		return false
	}
	second := cpfCheckDigit(digits[:10], 11)
	return second == int(digits[10]-'0')
}

func cpfCheckDigit(prefix string, startWeight int) int {
	sum := 0
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * (startWeight - i)
	}
	digit := 11 - sum%11
	if digit >= 10 {
		return 0
	}
	return digit
}

// ValidCNPJ verifies a 14-digit CNPJ against the fixed weight tables.
// A remainder below 2 yields 0, anything else yields 11-remainder.
func ValidCNPJ(digits string) bool {
	if len(digits) != 14 || !allDigits(digits) || repeated(digits) {
		return false
	}

	first := cnpjCheckDigit(digits[:12], cnpjFirstWeights)
	if first != int(digits[12]-'0') {
		return false
	}
	second := cnpjCheckDigit(digits[:13], cnpjSecondWeights)
	return second == int(digits[13]-'0')
}

func cnpjCheckDigit(prefix string, weights []int) int {
	sum := 0
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * weights[i]
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

func allDigits(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}

func repeated(value string) bool {
	for i := 1; i < len(value); i++ {
		if value[i] != value[0] {
			return false
		}
	}
	return true
}
