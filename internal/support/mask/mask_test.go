package mask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhone_LongNumberShowsLastFourDigits(t *testing.T) {
	assert.Equal(t, "+*******4567", Phone("+79161234567"))
	assert.Equal(t, "**** *** 67 89", Phone("0912 345 67 89"))
}

func TestPhone_ShortNumberShowsLastTwoDigits(t *testing.T) {
	assert.Equal(t, "****56", Phone("123456"))
	assert.Equal(t, "*01", Phone("101"))
}

func TestPhone_NeverMoreThanFourDigitsVisible(t *testing.T) {
	for _, number := range []string{"+79161234567", "84950000001", "internal-velkom-4411", "12", ""} {
		masked := Phone(number)
		visible := 0
		for _, r := range masked {
			if r >= '0' && r <= '9' {
				visible++
			}
		}
		assert.LessOrEqual(t, visible, 4, "masked %q -> %q", number, masked)
	}
}

func TestPhone_NonNumericPassthrough(t *testing.T) {
	assert.Equal(t, "anonymous", Phone("anonymous"))
	assert.Equal(t, "", Phone(""))
}

func TestEventFields_MasksPhoneKeysOnly(t *testing.T) {
	fields := map[string]interface{}{
		"from":    "+79161234567",
		"to":      "+74950000001",
		"call_id": "call-42",
		"stage":   "download",
	}
	masked := EventFields(fields)

	assert.Equal(t, "call-42", masked["call_id"])
	assert.Equal(t, "download", masked["stage"])
	assert.True(t, strings.HasSuffix(masked["from"].(string), "4567"))
	assert.NotContains(t, masked["from"], "9161234")
	assert.NotContains(t, masked["to"], "7495000")
}
