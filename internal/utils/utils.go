package utils

import "regexp"

var (
	emailRe      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	cryptoCodeRe = regexp.MustCompile(`^[A-Z]{2,10}$`)
)

func CheckEmail(s string) bool {
	return emailRe.MatchString(s)
}

// CheckCryptoCode reports whether s looks like a currency ticker (BTC, ETH).
func CheckCryptoCode(s string) bool {
	return cryptoCodeRe.MatchString(s)
}
