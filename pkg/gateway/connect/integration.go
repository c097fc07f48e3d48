package connect

import (
	"log/slog"
	"strings"
)

// SIP headers Amazon Connect sets on outbound external-voice calls.
const (
	headerContactID        = "X-Connect-ContactId"
	headerInitialContactID = "X-Connect-InitialContactId"
	headerCustomerNumber   = "X-Connect-CustomerPhoneNumber"
	headerInstanceARN      = "X-Connect-InstanceARN"
	headerUUI              = "User-to-User"
)

// CallMetadata is the Connect contact context for one call. Nil when
// the call did not come from Connect.
type CallMetadata struct {
	ContactID           string
	InitialContactID    string
	CustomerPhoneNumber string
	InstanceARN         string
	UUIData             map[string]string
}

// HeaderGetter reads one SIP header value by name, returning "" when
// absent.
type HeaderGetter func(name string) string

// FromHeaders parses Connect metadata from SIP INVITE headers. Returns
// nil when neither contact ID header is present (not a Connect call).
// A malformed UUI header is logged and skipped; it does not invalidate
// the contact metadata.
func FromHeaders(logger *slog.Logger, get HeaderGetter) *CallMetadata {
	if logger == nil {
		logger = slog.Default()
	}

	meta := &CallMetadata{
		ContactID:           strings.TrimSpace(get(headerContactID)),
		InitialContactID:    strings.TrimSpace(get(headerInitialContactID)),
		CustomerPhoneNumber: strings.TrimSpace(get(headerCustomerNumber)),
		InstanceARN:         strings.TrimSpace(get(headerInstanceARN)),
		UUIData:             map[string]string{},
	}

	if meta.ContactID == "" && meta.InitialContactID == "" {
		return nil
	}

	if uui := get(headerUUI); uui != "" {
		data, err := ParseUUI(uui)
		if err != nil {
			logger.Warn("failed to parse User-to-User header", "error", err)
		} else {
			meta.UUIData = data
		}
	}

	logger.Info("Amazon Connect call detected",
		"contact_id", meta.ContactID, "initial_contact_id", meta.InitialContactID)
	return meta
}

// Attributes returns the metadata as prefixed contact attributes:
// Connect_ for header fields and UUI_ for user-to-user data.
func (m *CallMetadata) Attributes() map[string]string {
	attrs := make(map[string]string)
	if m == nil {
		return attrs
	}
	if m.ContactID != "" {
		attrs["Connect_ContactId"] = m.ContactID
	}
	if m.InitialContactID != "" {
		attrs["Connect_InitialContactId"] = m.InitialContactID
	}
	if m.CustomerPhoneNumber != "" {
		attrs["Connect_CustomerPhoneNumber"] = m.CustomerPhoneNumber
	}
	if m.InstanceARN != "" {
		attrs["Connect_InstanceARN"] = m.InstanceARN
	}
	for key, value := range m.UUIData {
		attrs["UUI_"+key] = value
	}
	return attrs
}

// UpdateContactID returns the contact ID to use for attribute updates,
// preferring the initial contact.
func (m *CallMetadata) UpdateContactID() string {
	if m == nil {
		return ""
	}
	if m.InitialContactID != "" {
		return m.InitialContactID
	}
	return m.ContactID
}

// ExtractInstanceID pulls the instance ID out of a Connect instance
// ARN (arn:aws:connect:region:account:instance/<id>).
func ExtractInstanceID(instanceARN string) string {
	idx := strings.LastIndexByte(instanceARN, '/')
	if idx < 0 || idx == len(instanceARN)-1 {
		return ""
	}
	return instanceARN[idx+1:]
}
