package utils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cryptomart/internal/utils"
)

func TestCheckEmail(t *testing.T) {
	assert.True(t, utils.CheckEmail("gopher@example.com"))
	assert.True(t, utils.CheckEmail("first.last+tag@sub.example.co"))
	assert.False(t, utils.CheckEmail("not-an-email"))
	assert.False(t, utils.CheckEmail("@example.com"))
	assert.False(t, utils.CheckEmail("gopher@"))
}

func TestCheckCryptoCode(t *testing.T) {
	assert.True(t, utils.CheckCryptoCode("BTC"))
	assert.True(t, utils.CheckCryptoCode("USDT"))
	assert.False(t, utils.CheckCryptoCode("btc"))
	assert.False(t, utils.CheckCryptoCode("B"))
	assert.False(t, utils.CheckCryptoCode("TOOLONGCODE1"))
}
