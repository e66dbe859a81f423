package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
)

const (
	HeaderAccessKey = "X-Access-Key"
	HeaderDate      = "X-Date"
	HeaderSignature = "X-Signature"

	defaultMaxSkew = 15 * time.Minute
)

type UserStore interface {
	GetByAccessKey(ctx context.Context, accessKey string) (*domain.User, error)
}

type ACLStore interface {
	ListACLRules(ctx context.Context, zoneID string) ([]domain.ACLRule, error)
}

// SignedRequest carries the credential headers of one API call.
type SignedRequest struct {
	Method    string
	Path      string
	AccessKey string
	Date      string
	Signature string
}

// Gate resolves callers from signed requests and enforces zone ACLs.
type Gate struct {
	users   UserStore
	acl     ACLStore
	now     func() time.Time
	maxSkew time.Duration
}

func NewGate(users UserStore, acl ACLStore) (*Gate, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if acl == nil {
		return nil, fmt.Errorf("acl store is required")
	}
	return &Gate{
		users:   users,
		acl:     acl,
		now:     time.Now,
		maxSkew: defaultMaxSkew,
	}, nil
}

// Sign computes the request signature for secret over method, path and date.
func Sign(secret, method, path, date string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method) + "\n" + path + "\n" + date))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gate) Authenticate(ctx context.Context, req SignedRequest) (*domain.User, error) {
	accessKey := strings.TrimSpace(req.AccessKey)
	if accessKey == "" || req.Date == "" || req.Signature == "" {
		return nil, fmt.Errorf("%w: missing credentials", domain.ErrUnauthorized)
	}

	signedAt, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrUnauthorized, HeaderDate)
	}
	skew := g.now().Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.maxSkew {
		return nil, fmt.Errorf("%w: request date outside allowed skew", domain.ErrUnauthorized)
	}

	user, err := g.users.GetByAccessKey(ctx, accessKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown access key", domain.ErrUnauthorized)
		}
		return nil, err
	}

	want := Sign(user.SecretKey, req.Method, req.Path, req.Date)
	got := strings.ToLower(strings.TrimSpace(req.Signature))
	if !hmac.Equal([]byte(want), []byte(got)) {
		return nil, fmt.Errorf("%w: signature mismatch", domain.ErrUnauthorized)
	}

	return user, nil
}

// CanWrite returns nil when user may apply changeType to recordName/recordType in zone.
// Members of the zone admin group always may; everyone else needs a matching ACL rule.
func (g *Gate) CanWrite(
	ctx context.Context,
	user *domain.User,
	zone domain.Zone,
	recordName string,
	recordType domain.RecordType,
	changeType domain.ChangeType,
) error {
	if user == nil {
		return fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}
	if user.InGroup(zone.AdminGroupID) {
		return nil
	}

	required := domain.AccessLevelWrite
	if changeType == domain.ChangeTypeDeleteRecordSet {
		required = domain.AccessLevelDelete
	}

	rules, err := g.acl.ListACLRules(ctx, zone.ID)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.AppliesTo(user, recordName, recordType) && rule.AccessLevel.Allows(required) {
			return nil
		}
	}

	return fmt.Errorf("%w: user %s may not %s %s %s in zone %s",
		domain.ErrForbidden, user.UserName, changeType, recordName, recordType, zone.Name)
}
