// Package pixkey classifies and canonicalizes PIX destination keys. Routing
// rules match on the key family, so batch tooling derives it here whenever the
// input omits an explicit type.
package pixkey

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Type identifies the PIX key family a destination key belongs to.
type Type string

const (
	TypeCPF           Type = "CPF"
	TypeCNPJ          Type = "CNPJ"
	TypeEmail         Type = "EMAIL"
	TypePhone         Type = "PHONE"
	TypeEVP           Type = "EVP"
	TypeQRCode        Type = "QRCODE"
	TypeQRCodeStatic  Type = "QRCODE_STATIC"
	TypeQRCodeDynamic Type = "QRCODE_DYNAMIC"
	TypeUnknown       Type = "UNKNOWN"
)

var (
	ErrChecksum = errors.New("pixkey: qr checksum mismatch")
	ErrEmail    = errors.New("pixkey: invalid email")
	ErrPhone    = errors.New("pixkey: invalid phone number")
	ErrCountry  = errors.New("pixkey: not a brazilian number")
	ErrCPF      = errors.New("pixkey: invalid cpf")
	ErrCNPJ     = errors.New("pixkey: invalid cnpj")
	ErrInvalid  = errors.New("pixkey: invalid key")
)

var (
	emailRe       = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)
	nonDigitsRe   = regexp.MustCompile(`[^\d]+`)
	allDigitsRe   = regexp.MustCompile(`^\d+$`)
	formattedCNPJ = regexp.MustCompile(`^\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}$`)
	formattedCPF  = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
)

// Normalize validates a raw PIX key and returns its canonical form and type.
// The type is reported best effort even when validation fails so callers can
// still classify rejected keys.
func Normalize(key string) (string, Type, error) {
	// EMV QR payloads carry a CRC-16 suffix. A non-hex tail means the value
	// is not a QR payload at all, so classification continues below.
	if len(key) > 36 {
		if sum, err := strconv.ParseUint(key[len(key)-4:], 16, 32); err == nil {
			if uint16(sum) != crc16([]byte(key[:len(key)-4])) {
				return "", TypeQRCode, ErrChecksum
			}
			return key, qrKind(key), nil
		}
	}

	if strings.Contains(key, "@") {
		if !emailRe.MatchString(key) {
			return "", TypeEmail, ErrEmail
		}
		return strings.ToLower(key), TypeEmail, nil
	}

	if strings.Contains(key, "+") {
		phone := "+" + onlyDigits(key)
		if len(phone) != 14 {
			return "", TypePhone, ErrPhone
		}
		if !strings.HasPrefix(phone, "+55") {
			return "", TypePhone, ErrCountry
		}
		return phone, TypePhone, nil
	}

	if len(key) == 36 {
		return key, TypeEVP, nil
	}

	if len(key) == 18 {
		if !formattedCNPJ.MatchString(key) {
			return "", TypeUnknown, ErrInvalid
		}
		if !ValidCNPJ(key) {
			return "", TypeCNPJ, ErrCNPJ
		}
		return onlyDigits(key), TypeCNPJ, nil
	}

	// Phone with country code but missing the leading plus.
	if len(key) == 13 && allDigitsRe.MatchString(key) {
		if !strings.HasPrefix(key, "55") {
			return "", TypeUnknown, ErrInvalid
		}
		return "+" + key, TypePhone, nil
	}

	if len(key) < 11 {
		return "", TypeUnknown, ErrInvalid
	}

	if len(key) == 14 {
		if allDigitsRe.MatchString(key) {
			if !ValidCNPJ(key) {
				return "", TypeUnknown, ErrInvalid
			}
			return key, TypeCNPJ, nil
		}
		if formattedCPF.MatchString(key) {
			if !ValidCPF(key) {
				return "", TypeCPF, ErrCPF
			}
			return onlyDigits(key), TypeCPF, nil
		}
	}

	// Eleven digits is either a CPF or a local phone number. CPF wins when
	// the check digits hold, otherwise the Brazilian country code is assumed.
	if len(key) == 11 {
		if !allDigitsRe.MatchString(key) {
			return "", TypeUnknown, ErrInvalid
		}
		if ValidCPF(key) {
			return key, TypeCPF, nil
		}
		if key[0] == '0' {
			return "", TypeUnknown, ErrInvalid
		}
		return "+55" + key, TypePhone, nil
	}

	digits := onlyDigits(key)
	if len(digits) == 12 {
		if digits[0] != '0' {
			return "", TypeUnknown, ErrInvalid
		}
		return "+55" + digits[1:], TypePhone, nil
	}
	if len(digits) == 11 {
		if ValidCPF(digits) {
			return digits, TypeCPF, nil
		}
		return "+55" + digits, TypePhone, nil
	}

	return "", TypeUnknown, ErrInvalid
}

// DetectType reports the key family without requiring the key to validate.
func DetectType(key string) Type {
	_, typ, _ := Normalize(key)
	return typ
}

// ValidCPF reports whether the digits carry valid CPF check digits.
func ValidCPF(cpf string) bool {
	digits := onlyDigits(cpf)
	if len(digits) != 11 || allSame(digits) {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	rest := sum * 10 % 11
	if rest >= 10 {
		rest = 0
	}
	if rest != int(digits[9]-'0') {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += int(digits[i]-'0') * (11 - i)
	}
	rest = sum * 10 % 11
	if rest >= 10 {
		rest = 0
	}
	return rest == int(digits[10]-'0')
}

// ValidCNPJ reports whether the digits carry valid CNPJ check digits.
func ValidCNPJ(cnpj string) bool {
	digits := onlyDigits(cnpj)
	if len(digits) != 14 || allSame(digits) {
		return false
	}
	return digits[12] == cnpjDigit(digits[:12]) && digits[13] == cnpjDigit(digits[:13])
}

// cnpjDigit weighs the digits right to left cycling through 2..9.
func cnpjDigit(number string) byte {
	weight := 2
	acc := 0
	for i := len(number) - 1; i >= 0; i-- {
		acc += int(number[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	result := 11 - acc%11
	if result >= 10 {
		return '0'
	}
	return byte('0' + result)
}

// qrKind inspects the point-of-initiation field of an EMV payload.
func qrKind(payload string) Type {
	if strings.HasPrefix(payload, "0002010102") && len(payload) >= 12 {
		switch payload[10:12] {
		case "11":
			return TypeQRCodeStatic
		case "12":
			return TypeQRCodeDynamic
		}
		return TypeQRCode
	}
	if strings.HasPrefix(payload, "00020126") {
		return TypeQRCodeStatic
	}
	return TypeQRCode
}

// crc16 implements CRC-16/CCITT-FALSE as mandated for EMV QR payloads.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func onlyDigits(s string) string {
	return nonDigitsRe.ReplaceAllString(s, "")
}

func allSame(digits string) bool {
	return strings.Count(digits, digits[:1]) == len(digits)
}
