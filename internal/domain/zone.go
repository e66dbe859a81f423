package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// User is an authenticated API caller.
type User struct {
	ID        string
	UserName  string
	AccessKey string
	SecretKey string
	GroupIDs  []string
	CreatedAt time.Time
}

func (u *User) InGroup(groupID string) bool {
	if u == nil || groupID == "" {
		return false
	}
	for _, g := range u.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

// Zone is a DNS zone managed by the service.
type Zone struct {
	ID           string
	Name         string
	AdminGroupID string
	CreatedAt    time.Time
}

// AccessLevel is the permission an ACL rule grants. Levels are ordered.
type AccessLevel string

const (
	AccessLevelNoAccess AccessLevel = "NoAccess"
	AccessLevelRead     AccessLevel = "Read"
	AccessLevelWrite    AccessLevel = "Write"
	AccessLevelDelete   AccessLevel = "Delete"
)

func (l AccessLevel) rank() int {
	switch l {
	case AccessLevelRead:
		return 1
	case AccessLevelWrite:
		return 2
	case AccessLevelDelete:
		return 3
	default:
		return 0
	}
}

// Allows reports whether l grants at least required.
func (l AccessLevel) Allows(required AccessLevel) bool {
	return l.rank() > 0 && l.rank() >= required.rank()
}

func ParseAccessLevelFromString(s string) (AccessLevel, error) {
	trimmed := strings.TrimSpace(s)
	for _, l := range []AccessLevel{AccessLevelNoAccess, AccessLevelRead, AccessLevelWrite, AccessLevelDelete} {
		if strings.EqualFold(trimmed, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: invalid access level %q", ErrValidation, s)
}

// ACLRule grants a user or group access to records of a zone.
type ACLRule struct {
	ID          string
	ZoneID      string
	UserID      *string
	GroupID     *string
	AccessLevel AccessLevel
	RecordMask  *string
	RecordTypes []RecordType
	Description string
	CreatedAt   time.Time
}

// AppliesTo reports whether the rule targets the user and the record.
func (r ACLRule) AppliesTo(user *User, recordName string, recordType RecordType) bool {
	if user == nil {
		return false
	}

	switch {
	case r.UserID != nil:
		if *r.UserID != user.ID {
			return false
		}
	case r.GroupID != nil:
		if !user.InGroup(*r.GroupID) {
			return false
		}
	default:
		// Rules without a principal apply to every user.
	}

	if len(r.RecordTypes) > 0 {
		matched := false
		for _, t := range r.RecordTypes {
			if t == recordType {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if r.RecordMask != nil && *r.RecordMask != "" {
		re, err := regexp.Compile("^(?:" + *r.RecordMask + ")$")
		if err != nil || !re.MatchString(recordName) {
			return false
		}
	}

	return true
}

// RecordSet is the live state of one name+type in a zone.
type RecordSet struct {
	ID        string
	ZoneID    string
	Name      string
	Type      RecordType
	TTL       int
	Records   []RecordData
	CreatedAt time.Time
	UpdatedAt time.Time
}
