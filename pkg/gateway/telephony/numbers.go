package telephony

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// NumberFromURI extracts the phone number from a SIP URI user part.
// Carriers sometimes append dial parameters after a semicolon
// (e.g. "+15551234567;npdi"), which are stripped.
func NumberFromURI(uri sip.Uri) string {
	user := uri.User
	if idx := strings.IndexByte(user, ';'); idx >= 0 {
		user = user[:idx]
	}
	return strings.TrimSpace(user)
}

// CallerNumber returns the calling party's number from the From header,
// or an empty string when the request carries none.
func CallerNumber(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return ""
	}
	return NumberFromURI(from.Address)
}

// DialedNumber returns the called party's number from the To header.
func DialedNumber(req *sip.Request) string {
	to := req.To()
	if to == nil {
		return ""
	}
	return NumberFromURI(to.Address)
}
