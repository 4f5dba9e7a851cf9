package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		cc   string
		want string
	}{
		{"ten digits gets country code", "98765 43210", "91", "+919876543210"},
		{"twelve digits with country code", "919876543210", "91", "+919876543210"},
		{"eleven digits starting with country code", "91987654321", "91", "+91987654321"},
		{"formatting is stripped", "+91 (98765)-43210", "91", "+919876543210"},
		{"one-digit country code", "4155552671", "1", "+14155552671"},
		{"foreign number kept", "447911123456", "91", "+447911123456"},
		{"spreadsheet float artefact", "9876543210.0", "91", "+98765432100"},
		{"plus in country code is ignored", "9876543210", "+91", "+919876543210"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, tt.cc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhoneNoDigits(t *testing.T) {
	for _, raw := range []string{"", "abc", "+-() ", "٩٨٧"} {
		_, err := NormalizePhone(raw, "91")
		assert.ErrorIs(t, err, ErrInvalidPhone, "input %q", raw)
	}
}
