/**
 * @description
 * Package pixkey classifies, validates, normalizes and masks payee identifiers
 * ("chaves") accepted by the instant-payment network.
 *
 * Five formats are supported: e-mail, mobile phone, CPF (natural person),
 * CNPJ (legal entity) and random keys (UUID-shaped). CPF and CNPJ carry two
 * modulo-11 check digits which are verified here.
 *
 * @dependencies
 * - regexp, strings, unicode: Standard Go libraries.
 */
package pixkey

import (
	"regexp"
	"strings"
	"unicode"
)

// Type identifies the format of a payee identifier.
type Type string

const (
	TypeEmail  Type = "EMAIL"
	TypePhone  Type = "PHONE"
	TypeCPF    Type = "CPF"
	TypeCNPJ   Type = "CNPJ"
	TypeRandom Type = "RANDOM"
)

var (
	emailPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phonePattern  = regexp.MustCompile(`^\+[1-9][0-9]{0,2}[1-9][0-9][0-9]{8,9}$`)
	randomPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	// Digits optionally formatted with the usual separators (123.456.789-09, 11.222.333/0001-81).
	documentPattern = regexp.MustCompile(`^[0-9./\-]+$`)
)

// ParseType converts a declared type string into a Type. The second return
// value is false when the string names no supported type.
func ParseType(raw string) (Type, bool) {
	switch Type(strings.ToUpper(strings.TrimSpace(raw))) {
	case TypeEmail:
		return TypeEmail, true
	case TypePhone:
		return TypePhone, true
	case TypeCPF:
		return TypeCPF, true
	case TypeCNPJ:
		return TypeCNPJ, true
	case TypeRandom, "EVP":
		return TypeRandom, true
	}
	return "", false
}

// Classify detects the type of raw. Detection order is fixed: e-mail, phone,
// random key, CPF, CNPJ. A value shaped like a CPF or CNPJ whose check digits
// do not match is reported as unclassifiable.
func Classify(raw string) (Type, bool) {
	value := stripSpaces(raw)
	if value == "" {
		return "", false
	}

	switch {
	case emailPattern.MatchString(value):
		return TypeEmail, true
	case phonePattern.MatchString(value):
		return TypePhone, true
	case randomPattern.MatchString(value):
		return TypeRandom, true
	}

	if !documentPattern.MatchString(value) {
		return "", false
	}
	digits := onlyDigits(value)
	switch len(digits) {
	case 11:
		if ValidCPF(digits) {
			return TypeCPF, true
		}
	case 14:
		if ValidCNPJ(digits) {
			return TypeCNPJ, true
		}
	}
	return "", false
}

// Validate reports whether raw is a well-formed identifier of the given type.
func Validate(raw string, keyType Type) bool {
	value := Normalize(raw)
	if value == "" {
		return false
	}

	switch keyType {
	case TypeEmail:
		return emailPattern.MatchString(value)
	case TypePhone:
		return phonePattern.MatchString(value)
	case TypeRandom:
		return randomPattern.MatchString(value)
	case TypeCPF:
		return documentPattern.MatchString(stripSpaces(raw)) && ValidCPF(value)
	case TypeCNPJ:
		return documentPattern.MatchString(stripSpaces(raw)) && ValidCNPJ(value)
	}
	return false
}

// Normalize removes whitespace. E-mail and random keys keep their
// punctuation; every other value is reduced to digits and an optional
// leading '+'.
func Normalize(raw string) string {
	value := stripSpaces(raw)
	if strings.Contains(value, "@") || randomPattern.MatchString(value) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	for i, r := range value {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripSpaces(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}

func onlyDigits(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
}
