package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate("seed-1", "IN")
	b := Generate("seed-1", "in")
	assert.Equal(t, a, b)

	c := Generate("seed-2", "IN")
	assert.NotEqual(t, a.DeviceID, c.DeviceID)
}

func TestGenerateCountry(t *testing.T) {
	fp := Generate("x", "IN")
	assert.Equal(t, "Asia/Kolkata", fp.Timezone)
	assert.Equal(t, []string{"en-IN", "en", "en-US"}, fp.Languages)
	assert.True(t, strings.HasPrefix(fp.UserAgent, "Mozilla/5.0 ("))
	assert.Contains(t, fp.UserAgent, "Chrome/")

	unknown := Generate("x", "ZZ")
	assert.Equal(t, "America/New_York", unknown.Timezone)
	assert.Equal(t, []string{"en-US", "en"}, unknown.Languages)
}

func TestAcceptLanguage(t *testing.T) {
	fp := BrowserFingerprint{Languages: []string{"de-DE", "de", "en-US"}}
	assert.Equal(t, "de-DE,de;q=0.9,en-US;q=0.8", fp.AcceptLanguage())
}
