package pixkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidCPF(t *testing.T) {
	cases := []struct {
		digits string
		want   bool
	}{
		{"12345678909", true},
		{"52998224725", true},
		{"11111111111", false},
		{"12345678900", false},
		{"1234567890", false},
		{"1234567890a", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidCPF(tc.digits), tc.digits)
	}
}

func TestValidCNPJ(t *testing.T) {
	assert.True(t, ValidCNPJ("11222333000181"))
	assert.False(t, ValidCNPJ("11222333000100"))
	assert.False(t, ValidCNPJ("00000000000000"))
	assert.False(t, ValidCNPJ("1122233300018"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw    string
		want   Type
		wantOK bool
	}{
		{"org@example.org", TypeEmail, true},
		{" org@example.org ", TypeEmail, true},
		{"+5511912345678", TypePhone, true},
		{"+551132345678", TypePhone, true},
		{"123e4567-e89b-12d3-a456-426614174000", TypeRandom, true},
		{"12345678909", TypeCPF, true},
		{"123.456.789-09", TypeCPF, true},
		{"11222333000181", TypeCNPJ, true},
		{"11.222.333/0001-81", TypeCNPJ, true},
		{"12345678900", "", false},
		{"11222333000100", "", false},
		{"11111111111", "", false},
		{"not a key", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := Classify(tc.raw)
		assert.Equal(t, tc.wantOK, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate("org@example.org", TypeEmail))
	assert.False(t, Validate("org@example", TypeEmail))
	assert.True(t, Validate("+55 11 91234 5678", TypePhone))
	assert.False(t, Validate("11912345678", TypePhone))
	assert.True(t, Validate("123.456.789-09", TypeCPF))
	assert.False(t, Validate("123.456.789-00", TypeCPF))
	assert.False(t, Validate("abc12345678909", TypeCPF))
	assert.True(t, Validate("11.222.333/0001-81", TypeCNPJ))
	assert.True(t, Validate("123E4567-E89B-12D3-A456-426614174000", TypeRandom))
	assert.False(t, Validate("12345678909", TypeEmail))
	assert.False(t, Validate("12345678909", Type("BOGUS")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "org@example.org", Normalize(" org@example.org\t"))
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", Normalize("123e4567-e89b-12d3-a456-426614174000"))
	assert.Equal(t, "12345678909", Normalize("123.456.789-09"))
	assert.Equal(t, "+5511912345678", Normalize("+55 (11) 91234-5678"))
	assert.Equal(t, "5511", Normalize("55+11"))
}

func TestParseType(t *testing.T) {
	keyType, ok := ParseType(" cpf ")
	require.True(t, ok)
	assert.Equal(t, TypeCPF, keyType)

	keyType, ok = ParseType("evp")
	require.True(t, ok)
	assert.Equal(t, TypeRandom, keyType)

	_, ok = ParseType("iban")
	assert.False(t, ok)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "or*@example.org", Mask("org@example.org"))
	assert.Equal(t, "***.456.789-**", Mask("123.456.789-09"))
	assert.Equal(t, "11.222.333/****-**", Mask("11222333000181"))
	assert.Equal(t, "+*********5678", Mask("+5511912345678"))
	assert.Equal(t, "+*******1234", Mask("+12125551234"))
	assert.Equal(t, "+********5678", Mask("+351912345678"))
	assert.Equal(t, "123e4567-****-****-****-********4000", Mask("123e4567-e89b-12d3-a456-426614174000"))
	assert.Equal(t, "*6789", Mask("abc-56789"))
}
