// Package events decodes the forum's live event stream payloads into typed,
// validated values.
package events

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Wire names of the stream's event types.
const (
	NameMultiPurpose = "multiPurpose"
	NameUserList     = "userList"
	NameMessage      = "message"
)

type MultiPurposeReason string

const (
	ReasonRoleChange     MultiPurposeReason = "roleChange"
	ReasonDeletedByAdmin MultiPurposeReason = "deletedByAdmin"
	ReasonDefault        MultiPurposeReason = "default"
)

type MessageReason string

const (
	ReasonMessageCreated    MessageReason = "messageCreated"
	ReasonMessageUpdated    MessageReason = "messageUpdated"
	ReasonMessageDeleted    MessageReason = "messageDeleted"
	ReasonMessageLiked      MessageReason = "messageLiked"
	ReasonMessageBookmarked MessageReason = "messageBookmarked"
)

// Event is one of MultiPurpose, UserList or Message.
type Event interface {
	EventName() string
	sealed()
}

// MultiPurpose announces account-level changes: role changes, deletions by
// an administrator, and anything else that touches every cached view.
type MultiPurpose struct {
	Reason         MultiPurposeReason `json:"reason"`
	TargetID       ID                 `json:"targetId,omitempty"`
	TargetUserRole string             `json:"targetUserRole,omitempty"`
	OriginUsername string             `json:"originUsername,omitempty"`
}

// UserList signals that the set of registered users changed.
type UserList struct{}

// Message signals a change to a message.
type Message struct {
	Reason MessageReason `json:"reason"`
}

func (MultiPurpose) EventName() string { return NameMultiPurpose }
func (UserList) EventName() string     { return NameUserList }
func (Message) EventName() string      { return NameMessage }

func (MultiPurpose) sealed() {}
func (UserList) sealed()     {}
func (Message) sealed()      {}

// ID is a user id that the server may encode as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}
