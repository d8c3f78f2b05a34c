package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"120363025246125244@g.us", "120363025246125244@g.us"},
		{"447700900123@s.whatsapp.net", "447700900123@s.whatsapp.net"},
		{"447700900123-1612345678", "447700900123-1612345678@g.us"},
		{"447700900123", "447700900123@s.whatsapp.net"},
		// area 11 without the mobile digit gets it inserted
		{"551187654321", "5511987654321@s.whatsapp.net"},
		// already carries the mobile digit: no double insertion
		{"5511987654321", "5511987654321@s.whatsapp.net"},
		{"5530876543210", "5530976543210@s.whatsapp.net"},
		// area above 30 never carries it
		{"553187654321", "553187654321@s.whatsapp.net"},
		{"5531987654321", "553187654321@s.whatsapp.net"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeJID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := NormalizeJID(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestNormalizeJIDMobileDigit(t *testing.T) {
	for area := 11; area <= 99; area++ {
		id := "55" + itoa2(area) + "87654321"
		got, err := NormalizeJID(id)
		require.NoError(t, err)
		if area <= 30 {
			assert.Equal(t, "55"+itoa2(area)+"987654321"+UserSuffix, got)
		} else {
			assert.Equal(t, id+UserSuffix, got)
		}
	}
}

func TestNormalizeJIDInvalid(t *testing.T) {
	for _, in := range []string{"", "  ", "5511", "55119876543", "55ab87654321"} {
		_, err := NormalizeJID(in)
		assert.ErrorIs(t, err, ErrInvalidJID, in)
	}
}

func TestDeviceFromMessageID(t *testing.T) {
	assert.Equal(t, "ios", DeviceFromMessageID("3A0123456789ABCDEF01"))
	assert.Equal(t, "web", DeviceFromMessageID("3EB0123456789ABCDEF012"))
	assert.Equal(t, "android", DeviceFromMessageID("0123456789ABCDEF01234"))
	assert.Equal(t, "android", DeviceFromMessageID("0123456789ABCDEF0123456789ABCDEF"))
	assert.Equal(t, "desktop", DeviceFromMessageID("0123456789ABCDEF01"))
	assert.Equal(t, "unknown", DeviceFromMessageID("short"))
}

func itoa2(n int) string {
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
