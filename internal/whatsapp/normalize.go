package whatsapp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	UserSuffix  = "@s.whatsapp.net"
	GroupSuffix = "@g.us"

	// mobile numbers in this country gained an extra leading 9 in some regions
	localCountryCode = "55"
	// area codes up to this value carry the extra 9
	mobileDigitMaxArea = 30
)

// NormalizeJID turns a caller supplied recipient into a routable address.
// Ids that already carry a suffix are returned unchanged, which makes the
// function idempotent.
func NormalizeJID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.Wrap(ErrInvalidJID, "empty id")
	}
	if strings.HasSuffix(id, GroupSuffix) || strings.HasSuffix(id, UserSuffix) {
		return id, nil
	}
	if strings.Contains(id, "-") {
		return id + GroupSuffix, nil
	}
	if !strings.HasPrefix(id, localCountryCode) {
		return id + UserSuffix, nil
	}

	// country(2) + area(2) + subscriber(8)
	if len(id) < 12 {
		return "", errors.Wrapf(ErrInvalidJID, "%q is too short", id)
	}
	area, err := strconv.Atoi(id[2:4])
	if err != nil {
		return "", errors.Wrapf(ErrInvalidJID, "%q has a non numeric area code", id)
	}
	subscriber := id[len(id)-8:]
	if area <= mobileDigitMaxArea {
		return localCountryCode + id[2:4] + "9" + subscriber + UserSuffix, nil
	}
	return localCountryCode + id[2:4] + subscriber + UserSuffix, nil
}

// IsGroupJID reports whether id addresses a group chat.
func IsGroupJID(id string) bool {
	return strings.HasSuffix(id, GroupSuffix)
}

var (
	deviceIOS     = regexp.MustCompile(`^3A.{18}$`)
	deviceWeb     = regexp.MustCompile(`^3E.{20}$`)
	deviceAndroid = regexp.MustCompile(`^(.{21}|.{32})$`)
	deviceDesktop = regexp.MustCompile(`^.{18}$`)
)

// DeviceFromMessageID guesses the sender platform from the shape of a
// message id.
func DeviceFromMessageID(id string) string {
	switch {
	case deviceIOS.MatchString(id):
		return "ios"
	case deviceWeb.MatchString(id):
		return "web"
	case deviceAndroid.MatchString(id):
		return "android"
	case deviceDesktop.MatchString(id):
		return "desktop"
	}
	return "unknown"
}
