package brcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrChecksumMismatch is returned by Decode when the trailing CRC does not
// match the payload content.
var ErrChecksumMismatch = errors.New("brcode: checksum mismatch")

// Payload is the decoded form of a static payload.
type Payload struct {
	FormatIndicator string
	NetworkGUI      string
	Key             string
	CategoryCode    string
	Currency        string
	Amount          *int64
	CountryCode     string
	MerchantName    string
	MerchantCity    string
	TransactionID   string
	CRC             string
}

// Field is one tag-length-value entry.
type Field struct {
	Tag   string
	Value string
}

// ParseFields splits s into its top-level TLV fields.
func ParseFields(s string) ([]Field, error) {
	var fields []Field
	for pos := 0; pos < len(s); {
		if pos+4 > len(s) {
			return nil, fmt.Errorf("brcode: truncated field header at offset %d", pos)
		}
		tag := s[pos : pos+2]
		length, err := strconv.Atoi(s[pos+2 : pos+4])
		if err != nil {
			return nil, fmt.Errorf("brcode: invalid length for tag %s: %w", tag, err)
		}
		start := pos + 4
		end := start + length
		if end > len(s) {
			return nil, fmt.Errorf("brcode: tag %s declares %d bytes past end of payload", tag, length)
		}
		fields = append(fields, Field{Tag: tag, Value: s[start:end]})
		pos = end
	}
	return fields, nil
}

// Decode parses payload and verifies its checksum.
func Decode(payload string) (*Payload, error) {
	idx := len(payload) - len(crcFieldPrefix) - 4
	if idx < 0 || payload[idx:idx+len(crcFieldPrefix)] != crcFieldPrefix {
		return nil, fmt.Errorf("brcode: missing trailing checksum field")
	}
	want := payload[idx+len(crcFieldPrefix):]
	if got := Checksum(payload[:idx+len(crcFieldPrefix)]); !strings.EqualFold(got, want) {
		return nil, fmt.Errorf("%w: expected %s, payload carries %s", ErrChecksumMismatch, got, want)
	}

	fields, err := ParseFields(payload)
	if err != nil {
		return nil, err
	}

	out := &Payload{}
	for _, f := range fields {
		switch f.Tag {
		case TagFormatIndicator:
			out.FormatIndicator = f.Value
		case TagMerchantAccount:
			sub, err := ParseFields(f.Value)
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				switch s.Tag {
				case SubTagGUI:
					out.NetworkGUI = s.Value
				case SubTagKey:
					out.Key = s.Value
				}
			}
		case TagCategoryCode:
			out.CategoryCode = f.Value
		case TagCurrency:
			out.Currency = f.Value
		case TagAmount:
			amount, err := parseAmount(f.Value)
			if err != nil {
				return nil, err
			}
			out.Amount = &amount
		case TagCountryCode:
			out.CountryCode = f.Value
		case TagMerchantName:
			out.MerchantName = f.Value
		case TagMerchantCity:
			out.MerchantCity = f.Value
		case TagAdditionalData:
			sub, err := ParseFields(f.Value)
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				if s.Tag == SubTagTransactionID {
					out.TransactionID = s.Value
				}
			}
		case TagCRC:
			out.CRC = f.Value
		}
	}
	return out, nil
}

func parseAmount(value string) (int64, error) {
	whole, frac, found := strings.Cut(value, ".")
	if !found {
		frac = "00"
	}
	if len(frac) == 1 {
		frac += "0"
	}
	if len(frac) != 2 {
		return 0, fmt.Errorf("brcode: invalid amount %q", value)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("brcode: invalid amount %q: %w", value, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("brcode: invalid amount %q: %w", value, err)
	}
	return units*100 + cents, nil
}
