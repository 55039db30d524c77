package session

import "strings"

// thaiToLatin maps Thai characters to a rough Latin transliteration. Tone
// marks and other combining characters map to the empty string.
var thaiToLatin = map[rune]string{
	'ก': "k", 'ข': "kh", 'ฃ': "kh", 'ค': "kh", 'ฅ': "kh", 'ฆ': "kh",
	'ง': "ng", 'จ': "j", 'ฉ': "ch", 'ช': "ch", 'ซ': "s", 'ฌ': "ch",
	'ญ': "y", 'ฎ': "d", 'ฏ': "t", 'ฐ': "th", 'ฑ': "th", 'ฒ': "th",
	'ณ': "n", 'ด': "d", 'ต': "t", 'ถ': "th", 'ท': "th", 'ธ': "th",
	'น': "n", 'บ': "b", 'ป': "p", 'ผ': "ph", 'ฝ': "f", 'พ': "ph",
	'ฟ': "f", 'ภ': "ph", 'ม': "m", 'ย': "y", 'ร': "r", 'ฤ': "rue",
	'ล': "l", 'ฦ': "lue", 'ว': "w", 'ศ': "s", 'ษ': "s", 'ส': "s",
	'ห': "h", 'ฬ': "l", 'อ': "o", 'ฮ': "h",
	'ะ': "a", 'ั': "a", 'า': "a", 'ำ': "am", 'ิ': "i", 'ี': "i",
	'ึ': "ue", 'ื': "ue", 'ุ': "u", 'ู': "u", 'เ': "e", 'แ': "ae",
	'โ': "o", 'ใ': "ai", 'ไ': "ai", 'ๅ': "", '็': "", '่': "",
	'้': "", '๊': "", '๋': "", '์': "", 'ํ': "", 'ๆ': "", '฿': "",
}

// Transliterate converts a display name into a lowercase ASCII token safe for
// storage keys. Thai characters are transliterated, everything outside
// [a-z0-9] is dropped.
func Transliterate(name string) string {
	var b strings.Builder
	for _, r := range name {
		if latin, ok := thaiToLatin[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}

	var out strings.Builder
	for _, r := range strings.ToLower(b.String()) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
	}
	return out.String()
}
