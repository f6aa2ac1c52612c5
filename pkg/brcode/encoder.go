/**
 * @description
 * Package brcode builds and parses the static merchant payload ("BR Code")
 * carried inside the charge QR code. The payload is a flat sequence of EMV
 * tag-length-value fields terminated by a CRC-16/CCITT-FALSE checksum.
 *
 * Field order is fixed; any deviation changes the checksum and the payload
 * is rejected by the payer's bank.
 *
 * @dependencies
 * - golang.org/x/text: diacritic stripping for merchant name and city.
 */
package brcode

import (
	"errors"
	"fmt"
	"strings"
)

// Tags of the top-level payload fields.
const (
	TagFormatIndicator = "00"
	TagMerchantAccount = "26"
	TagCategoryCode    = "52"
	TagCurrency        = "53"
	TagAmount          = "54"
	TagCountryCode     = "58"
	TagMerchantName    = "59"
	TagMerchantCity    = "60"
	TagAdditionalData  = "62"
	TagCRC             = "63"

	// Sub-tags of the merchant account (26) and additional data (62) templates.
	SubTagGUI           = "00"
	SubTagKey           = "01"
	SubTagTransactionID = "05"
)

const (
	FormatIndicator = "01"
	NetworkGUI      = "br.gov.bcb.pix"
	CategoryCode    = "0000"
	CurrencyBRL     = "986"
	CountryCode     = "BR"

	MaxNameBytes          = 25
	MaxCityBytes          = 15
	MaxTransactionIDBytes = 25
	maxValueBytes         = 99
	crcFieldPrefix        = TagCRC + "04"
)

// ErrEncoding is matched by every *EncodingError.
var ErrEncoding = errors.New("brcode: encoding error")

// EncodingError reports the field that prevented the payload from being built.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("brcode: %s: %s", e.Field, e.Reason)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// Params are the inputs of a static payload. A nil Amount produces an
// open-amount payload where the payer types the value.
type Params struct {
	Key           string
	MerchantName  string
	MerchantCity  string
	TransactionID string
	Amount        *int64 // minor units (centavos)
}

// Encode serializes p. Identical params always produce the identical payload.
func Encode(p Params) (string, error) {
	key := strings.TrimSpace(p.Key)
	if key == "" {
		return "", &EncodingError{Field: "key", Reason: "must not be blank"}
	}
	if strings.TrimSpace(p.TransactionID) == "" {
		return "", &EncodingError{Field: "transaction_id", Reason: "must not be blank"}
	}
	if len(p.TransactionID) > MaxTransactionIDBytes {
		return "", &EncodingError{Field: "transaction_id", Reason: fmt.Sprintf("exceeds %d characters", MaxTransactionIDBytes)}
	}
	txID := SanitizeTransactionID(p.TransactionID, MaxTransactionIDBytes)
	if txID == "" {
		return "", &EncodingError{Field: "transaction_id", Reason: "has no alphanumeric characters"}
	}
	name := SanitizeText(p.MerchantName, MaxNameBytes)
	if name == "" {
		return "", &EncodingError{Field: "merchant_name", Reason: "must not be blank"}
	}
	city := SanitizeText(p.MerchantCity, MaxCityBytes)
	if city == "" {
		return "", &EncodingError{Field: "merchant_city", Reason: "must not be blank"}
	}

	var b strings.Builder
	w := &tlvWriter{b: &b}
	w.field(TagFormatIndicator, FormatIndicator)
	w.template(TagMerchantAccount, func(sub *tlvWriter) {
		sub.field(SubTagGUI, NetworkGUI)
		sub.field(SubTagKey, key)
	})
	w.field(TagCategoryCode, CategoryCode)
	w.field(TagCurrency, CurrencyBRL)
	if p.Amount != nil {
		if *p.Amount <= 0 {
			return "", &EncodingError{Field: "amount", Reason: "must be positive"}
		}
		w.field(TagAmount, FormatAmount(*p.Amount))
	}
	w.field(TagCountryCode, CountryCode)
	w.field(TagMerchantName, name)
	w.field(TagMerchantCity, city)
	w.template(TagAdditionalData, func(sub *tlvWriter) {
		sub.field(SubTagTransactionID, txID)
	})
	if w.err != nil {
		return "", w.err
	}

	b.WriteString(crcFieldPrefix)
	b.WriteString(Checksum(b.String()))
	return b.String(), nil
}

// FormatAmount renders minor units as a decimal with two fraction digits.
func FormatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

type tlvWriter struct {
	b   *strings.Builder
	err error
}

func (w *tlvWriter) field(tag, value string) {
	if w.err != nil {
		return
	}
	if len(value) > maxValueBytes {
		w.err = &EncodingError{Field: "tag " + tag, Reason: fmt.Sprintf("value of %d bytes exceeds %d", len(value), maxValueBytes)}
		return
	}
	w.b.WriteString(tag)
	fmt.Fprintf(w.b, "%02d", len(value))
	w.b.WriteString(value)
}

func (w *tlvWriter) template(tag string, build func(sub *tlvWriter)) {
	if w.err != nil {
		return
	}
	var inner strings.Builder
	sub := &tlvWriter{b: &inner}
	build(sub)
	if sub.err != nil {
		w.err = sub.err
		return
	}
	w.field(tag, inner.String())
}
