package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RefCodeHookFunc lets tests force the random part of generated codes.
type RefCodeHookFunc func() (code string, override bool)

// NewRefCodeHook is a package-level variable that tests can set to override NewRefCode.
var NewRefCodeHook RefCodeHookFunc

// Crockford Base32 encoding alphabet (uppercase)
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeMap map[byte]byte

func init() {
	crockfordDecodeMap = make(map[byte]byte, 32)
	for i := range crockfordAlphabet {
		crockfordDecodeMap[crockfordAlphabet[i]] = byte(i)
	}
	lower := strings.ToLower(crockfordAlphabet)
	for i := range lower {
		if i >= 10 {
			crockfordDecodeMap[lower[i]] = byte(i)
		}
	}
	// commonly confused characters
	crockfordDecodeMap['o'] = crockfordDecodeMap['0']
	crockfordDecodeMap['O'] = crockfordDecodeMap['0']
	crockfordDecodeMap['i'] = crockfordDecodeMap['1']
	crockfordDecodeMap['I'] = crockfordDecodeMap['1']
	crockfordDecodeMap['l'] = crockfordDecodeMap['1']
	crockfordDecodeMap['L'] = crockfordDecodeMap['1']
}

// NewRefCode returns 10 Crockford Base32 characters encoding 6 random bytes.
func NewRefCode() string {
	if NewRefCodeHook != nil {
		if code, override := NewRefCodeHook(); override {
			return code
		}
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails on broken systems; fall back to the clock
		ns := time.Now().UnixNano()
		for i := range b {
			b[i] = byte(ns >> (8 * i))
		}
	}
	return encodeCrockford(b)
}

func encodeCrockford(b [6]byte) string {
	result := make([]byte, 0, 10)
	var bits, offset uint
	for i := 0; i < 6; i++ {
		bits |= uint(b[i]) << offset
		offset += 8
		for offset >= 5 {
			result = append(result, crockfordAlphabet[bits&0x1F])
			bits >>= 5
			offset -= 5
		}
	}
	if offset > 0 {
		result = append(result, crockfordAlphabet[bits&0x1F])
	}
	return string(result)
}

// NormalizeRefCode upper-cases a code typed by a person, strips separators and
// maps ambiguous characters. It returns an error if the code is not 10
// Crockford characters.
func NormalizeRefCode(s string) (string, error) {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != 10 {
		return "", errors.New("invalid reference code: length must be 10")
	}
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		v, ok := crockfordDecodeMap[s[i]]
		if !ok {
			return "", fmt.Errorf("invalid character %q in reference code", s[i])
		}
		out[i] = crockfordAlphabet[v]
	}
	return string(out), nil
}

// InvoiceNumber formats the human readable number of an invoice for the
// given period, e.g. INV-202503-7Q2M0K4ZPA.
func InvoiceNumber(periodStart time.Time) string {
	return fmt.Sprintf("INV-%04d%02d-%s", periodStart.Year(), int(periodStart.Month()), NewRefCode())
}

// NormalizeInvoiceNumber turns a typed invoice number such as
// "inv-202503-7q2m-0k4z-pa" into its stored form INV-202503-7Q2M0K4ZPA.
func NormalizeInvoiceNumber(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 10 || !strings.EqualFold(s[:4], "INV-") {
		return "", errors.New("invalid invoice number: expected INV-YYYYMM-<code>")
	}
	period := s[4:10]
	if _, err := time.Parse("200601", period); err != nil {
		return "", fmt.Errorf("invalid invoice number period %q", period)
	}
	code, err := NormalizeRefCode(s[10:])
	if err != nil {
		return "", err
	}
	return "INV-" + period + "-" + code, nil
}
