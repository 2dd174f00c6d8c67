package whatsapp

import (
	"context"
	"errors"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

var ErrNotAGroup = errors.New("identifier is not a group address")

// Group is the live view of one joined group, derived from the client
// and never persisted.
type Group struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	Timestamp    int64  `json:"timestamp"`
}

func groupFromInfo(client *whatsmeow.Client, info *types.GroupInfo) Group {
	group := Group{
		ID:           info.JID.String(),
		Name:         info.GroupName.Name,
		Participants: len(info.Participants),
		Timestamp:    info.GroupCreated.Unix(),
	}
	if client.Store.ID != nil {
		self := client.Store.ID.ToNonAD()
		for _, participant := range info.Participants {
			if participant.JID.ToNonAD() == self {
				group.IsAdmin = participant.IsAdmin
				group.IsSuperAdmin = participant.IsSuperAdmin
				break
			}
		}
	}
	return group
}

// ListGroups returns the session's joined groups straight from the
// client.
func (r *Registry) ListGroups(ctx context.Context, sessionID string) ([]Group, error) {
	client, err := r.Client(sessionID)
	if err != nil {
		return nil, err
	}

	infos, err := client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(infos))
	for _, info := range infos {
		groups = append(groups, groupFromInfo(client, info))
	}
	return groups, nil
}

// GetGroup fetches one group's live info by its group address.
func (r *Registry) GetGroup(ctx context.Context, sessionID, groupID string) (*Group, error) {
	client, err := r.Client(sessionID)
	if err != nil {
		return nil, err
	}

	address, err := ClassifyAddress(groupID)
	if err != nil || address.Kind != AddressGroup {
		return nil, ErrNotAGroup
	}

	info, err := client.GetGroupInfo(ctx, address.JID)
	if err != nil {
		return nil, err
	}
	group := groupFromInfo(client, info)
	return &group, nil
}
