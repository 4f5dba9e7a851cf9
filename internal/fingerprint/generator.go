package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// BrowserFingerprint is a deterministic browser identity derived from a seed.
// The same seed and country always yield the same identity so the WhatsApp Web
// session sees a stable browser across restarts.
type BrowserFingerprint struct {
	DeviceID     string // 16 hex chars from SHA256
	UserAgent    string
	Platform     string
	Languages    []string
	Timezone     string
	WindowWidth  int
	WindowHeight int
	Country      string
}

type countryConfig struct {
	Timezone string
	Language string
}

var countryConfigs = map[string]countryConfig{
	"US": {Timezone: "America/New_York", Language: "en-US"},
	"IL": {Timezone: "Asia/Jerusalem", Language: "he-IL"},
	"GB": {Timezone: "Europe/London", Language: "en-GB"},
	"DE": {Timezone: "Europe/Berlin", Language: "de-DE"},
	"FR": {Timezone: "Europe/Paris", Language: "fr-FR"},
	"CA": {Timezone: "America/Toronto", Language: "en-CA"},
	"AU": {Timezone: "Australia/Sydney", Language: "en-AU"},
	"BR": {Timezone: "America/Sao_Paulo", Language: "pt-BR"},
	"IN": {Timezone: "Asia/Kolkata", Language: "en-IN"},
	"JP": {Timezone: "Asia/Tokyo", Language: "ja-JP"},
}

var chromeVersions = []string{
	"120.0.6099.109",
	"120.0.6099.130",
	"121.0.6167.85",
	"121.0.6167.160",
	"122.0.6261.69",
	"122.0.6261.112",
}

var platforms = []struct {
	token    string
	platform string
}{
	{"Windows NT 10.0; Win64; x64", "Win32"},
	{"X11; Linux x86_64", "Linux x86_64"},
}

var windowSizes = [][2]int{
	{1280, 800},
	{1366, 768},
	{1440, 900},
	{1536, 864},
}

// Generate creates a deterministic fingerprint from seed and country code.
func Generate(seed string, country string) BrowserFingerprint {
	if seed == "" {
		seed = "default-seed"
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = "US"
	}

	sum := sha256.Sum256([]byte(seed))
	hashHex := hex.EncodeToString(sum[:])

	version := chromeVersions[int(sum[0])%len(chromeVersions)]
	plat := platforms[int(sum[1])%len(platforms)]
	size := windowSizes[int(binary.BigEndian.Uint16(sum[2:4]))%len(windowSizes)]

	cc, ok := countryConfigs[country]
	if !ok {
		cc = countryConfigs["US"]
	}

	langs := []string{cc.Language}
	if base := strings.SplitN(cc.Language, "-", 2)[0]; base != cc.Language {
		langs = append(langs, base)
	}
	if cc.Language != "en-US" {
		langs = append(langs, "en-US", "en")
	}

	return BrowserFingerprint{
		DeviceID:     hashHex[:16],
		UserAgent:    fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", plat.token, version),
		Platform:     plat.platform,
		Languages:    dedupe(langs),
		Timezone:     cc.Timezone,
		WindowWidth:  size[0],
		WindowHeight: size[1],
		Country:      country,
	}
}

// AcceptLanguage renders Languages as an Accept-Language header value.
func (f BrowserFingerprint) AcceptLanguage() string {
	parts := make([]string, 0, len(f.Languages))
	for i, l := range f.Languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// ToMap returns the fingerprint for JSON status output.
func (f BrowserFingerprint) ToMap() map[string]string {
	return map[string]string{
		"device_id":  f.DeviceID,
		"user_agent": f.UserAgent,
		"platform":   f.Platform,
		"languages":  strings.Join(f.Languages, ","),
		"timezone":   f.Timezone,
		"window":     fmt.Sprintf("%dx%d", f.WindowWidth, f.WindowHeight),
		"country":    f.Country,
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
