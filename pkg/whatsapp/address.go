package whatsapp

import (
	"errors"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// AddressKind discriminates the accepted recipient formats.
type AddressKind int

const (
	AddressPhone AddressKind = iota
	AddressGroup
	AddressContact
)

func (k AddressKind) String() string {
	switch k {
	case AddressPhone:
		return "phone"
	case AddressGroup:
		return "group"
	case AddressContact:
		return "contact"
	default:
		return "unknown"
	}
}

// Address is a classified recipient with its resolved JID.
type Address struct {
	Kind      AddressKind
	JID       types.JID
	Canonical string
}

var ErrInvalidAddress = errors.New("recipient is not E.164, a group address or a contact address")

var (
	e164Pattern    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	groupPattern   = regexp.MustCompile(`^(\d+(-\d+)?)@g\.us$`)
	contactPattern = regexp.MustCompile(`^(\d+)@(c\.us|s\.whatsapp\.net)$`)
)

// ClassifyAddress resolves a raw recipient into a typed address.
// Group and contact addresses pass through, E.164 numbers map onto the
// user server with the plus sign stripped.
func ClassifyAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)

	if m := groupPattern.FindStringSubmatch(trimmed); m != nil {
		return Address{
			Kind:      AddressGroup,
			JID:       types.NewJID(m[1], types.GroupServer),
			Canonical: trimmed,
		}, nil
	}

	if m := contactPattern.FindStringSubmatch(trimmed); m != nil {
		return Address{
			Kind:      AddressContact,
			JID:       types.NewJID(m[1], types.DefaultUserServer),
			Canonical: m[1] + "@" + types.DefaultUserServer,
		}, nil
	}

	if e164Pattern.MatchString(trimmed) {
		user := strings.TrimPrefix(trimmed, "+")
		return Address{
			Kind:      AddressPhone,
			JID:       types.NewJID(user, types.DefaultUserServer),
			Canonical: user + "@" + types.DefaultUserServer,
		}, nil
	}

	return Address{}, ErrInvalidAddress
}
