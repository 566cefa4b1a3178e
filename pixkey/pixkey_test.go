package pixkey

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNormalizeClassifiesKeys(t *testing.T) {
	cases := []struct {
		name      string
		key       string
		canonical string
		typ       Type
		wantErr   error
	}{
		{"bare cpf", "52998224725", "52998224725", TypeCPF, nil},
		{"formatted cpf", "529.982.247-25", "52998224725", TypeCPF, nil},
		{"bad cpf check digit", "529.982.247-24", "", TypeCPF, ErrCPF},
		{"bare cnpj", "11222333000181", "11222333000181", TypeCNPJ, nil},
		{"formatted cnpj", "11.222.333/0001-81", "11222333000181", TypeCNPJ, nil},
		{"bad cnpj check digit", "11222333000182", "", TypeUnknown, ErrInvalid},
		{"email lowercased", "Payee@Example.COM", "payee@example.com", TypeEmail, nil},
		{"malformed email", "payee@@example", "", TypeEmail, ErrEmail},
		{"formatted phone", "+55 (11) 99876-5432", "+5511998765432", TypePhone, nil},
		{"short phone", "+12125550123", "", TypePhone, ErrPhone},
		{"foreign phone", "+4411998765432", "", TypePhone, ErrCountry},
		{"phone missing plus", "5511998765432", "+5511998765432", TypePhone, nil},
		{"local phone", "11998765432", "+5511998765432", TypePhone, nil},
		{"evp", "123e4567-e89b-12d3-a456-426614174000", "123e4567-e89b-12d3-a456-426614174000", TypeEVP, nil},
		{"repeated digits fall back to phone", "11111111111", "+5511111111111", TypePhone, nil},
		{"leading zero eleven digits", "01111111111", "", TypeUnknown, ErrInvalid},
		{"short garbage", "abc", "", TypeUnknown, ErrInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			canonical, typ, err := Normalize(tc.key)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			if typ != tc.typ {
				t.Fatalf("type = %s, want %s", typ, tc.typ)
			}
			if canonical != tc.canonical {
				t.Fatalf("canonical = %q, want %q", canonical, tc.canonical)
			}
		})
	}
}

func TestNormalizeQRPayloads(t *testing.T) {
	withChecksum := func(base string) string {
		return base + fmt.Sprintf("%04X", crc16([]byte(base)))
	}

	static := withChecksum("000201010211" + strings.Repeat("5", 30))
	canonical, typ, err := Normalize(static)
	if err != nil || typ != TypeQRCodeStatic || canonical != static {
		t.Fatalf("static payload: %q %s %v", canonical, typ, err)
	}

	dynamic := withChecksum("000201010212" + strings.Repeat("5", 30))
	if _, typ, err = Normalize(dynamic); err != nil || typ != TypeQRCodeDynamic {
		t.Fatalf("dynamic payload: %s %v", typ, err)
	}

	staticAlt := withChecksum("00020126" + strings.Repeat("5", 34))
	if _, typ, err = Normalize(staticAlt); err != nil || typ != TypeQRCodeStatic {
		t.Fatalf("merchant account payload: %s %v", typ, err)
	}

	base := "000201010211" + strings.Repeat("5", 30)
	tampered := base + fmt.Sprintf("%04X", crc16([]byte(base))^0x1)
	if _, typ, err = Normalize(tampered); !errors.Is(err, ErrChecksum) || typ != TypeQRCode {
		t.Fatalf("tampered payload: %s %v", typ, err)
	}

	// A non-hex tail disqualifies the value as a QR payload entirely.
	if _, typ, err = Normalize(base + "ZZZZ"); !errors.Is(err, ErrInvalid) || typ != TypeUnknown {
		t.Fatalf("non-hex tail: %s %v", typ, err)
	}
}

func TestDetectTypeIgnoresValidity(t *testing.T) {
	if typ := DetectType("529.982.247-24"); typ != TypeCPF {
		t.Fatalf("expected CPF classification for bad check digit, got %s", typ)
	}
	if typ := DetectType("broken@@mail"); typ != TypeEmail {
		t.Fatalf("expected EMAIL classification, got %s", typ)
	}
}

func TestCheckDigitHelpers(t *testing.T) {
	if !ValidCPF("529.982.247-25") {
		t.Fatalf("expected formatted cpf to validate")
	}
	if ValidCPF("00000000000") {
		t.Fatalf("repeated digits must not validate")
	}
	if !ValidCNPJ("11.222.333/0001-81") {
		t.Fatalf("expected formatted cnpj to validate")
	}
	if ValidCNPJ("11111111111111") {
		t.Fatalf("repeated digits must not validate")
	}
}
