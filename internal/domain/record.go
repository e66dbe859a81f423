package domain

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
	"github.com/miekg/dns/dnsutil"
)

// RecordType is a DNS record type supported by batch changes.
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypePTR   RecordType = "PTR"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeMX    RecordType = "MX"
)

func (t RecordType) String() string { return string(t) }

func (t RecordType) IsValid() bool {
	switch t {
	case RecordTypeA, RecordTypeAAAA, RecordTypeCNAME, RecordTypePTR, RecordTypeTXT, RecordTypeMX:
		return true
	}
	return false
}

func ParseRecordTypeFromString(s string) (RecordType, error) {
	rt := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("%w: unsupported record type %q", ErrValidation, s)
	}
	return rt, nil
}

// Record and name limits.
const (
	MinTTL           = 30
	MaxTTL           = 2147483647
	DefaultTTL       = 7200
	MaxTXTLength     = 64764
	MaxFQDNLength    = 255
	MaxLabelLength   = 63
	MaxMXPreference  = 65535
	MaxCommentLength = 1024
	ApexRecordName   = "@"
)

// RecordData holds type specific record content. Only the fields for the record type are set.
type RecordData struct {
	Address    string `json:"address,omitempty"`
	CName      string `json:"cname,omitempty"`
	PTRDName   string `json:"ptrdname,omitempty"`
	Text       string `json:"text,omitempty"`
	Preference *int   `json:"preference,omitempty"`
	Exchange   string `json:"exchange,omitempty"`
}

// Normalize lower-cases and dot-terminates name-valued fields.
func (d RecordData) Normalize(t RecordType) RecordData {
	switch t {
	case RecordTypeCNAME:
		d.CName = NormalizeFQDN(d.CName)
	case RecordTypePTR:
		d.PTRDName = NormalizeFQDN(d.PTRDName)
	case RecordTypeMX:
		d.Exchange = NormalizeFQDN(d.Exchange)
	case RecordTypeA, RecordTypeAAAA:
		d.Address = strings.TrimSpace(d.Address)
	}
	return d
}

// Validate checks the record data against the rules for its type.
func (d RecordData) Validate(t RecordType) error {
	switch t {
	case RecordTypeA:
		addr, err := netip.ParseAddr(d.Address)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%w: invalid IPv4 address %q", ErrValidation, d.Address)
		}
	case RecordTypeAAAA:
		addr, err := netip.ParseAddr(d.Address)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return fmt.Errorf("%w: invalid IPv6 address %q", ErrValidation, d.Address)
		}
	case RecordTypeCNAME:
		if err := ValidateFQDN(d.CName); err != nil {
			return fmt.Errorf("invalid cname target: %w", err)
		}
	case RecordTypePTR:
		if err := ValidateFQDN(d.PTRDName); err != nil {
			return fmt.Errorf("invalid ptrdname: %w", err)
		}
	case RecordTypeTXT:
		n := len([]rune(d.Text))
		if n == 0 || n > MaxTXTLength {
			return fmt.Errorf("%w: TXT text must be 1..%d characters (got %d)", ErrValidation, MaxTXTLength, n)
		}
	case RecordTypeMX:
		if d.Preference == nil || *d.Preference < 0 || *d.Preference > MaxMXPreference {
			return fmt.Errorf("%w: MX preference must be 0..%d", ErrValidation, MaxMXPreference)
		}
		if err := ValidateFQDN(d.Exchange); err != nil {
			return fmt.Errorf("invalid MX exchange: %w", err)
		}
	default:
		return fmt.Errorf("%w: unsupported record type %q", ErrValidation, t)
	}
	return nil
}

// NormalizeFQDN lower-cases a name and terminates it with a dot.
func NormalizeFQDN(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	return dns.CanonicalName(n)
}

// ValidateFQDN validates a dot-terminated DNS host name. Wire limits are checked by
// dns.IsDomainName; labels are further limited to letters, digits, '-' and '_'.
func ValidateFQDN(name string) error {
	n := NormalizeFQDN(name)
	if n == "" || n == "." {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(n) > MaxFQDNLength {
		return fmt.Errorf("%w: name %q exceeds %d characters", ErrValidation, name, MaxFQDNLength)
	}
	if _, ok := dns.IsDomainName(n); !ok {
		return fmt.Errorf("%w: name %q is not a valid domain name", ErrValidation, name)
	}

	for _, label := range dns.SplitDomainName(n) {
		if err := validateLabel(label); err != nil {
			return fmt.Errorf("%w: name %q: %s", ErrValidation, name, err.Error())
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("label %q exceeds %d characters", label, MaxLabelLength)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q cannot start or end with '-'", label)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("label %q contains invalid character %q", label, r)
		}
	}
	return nil
}

// RelativeName returns the record name of fqdn inside zoneName, or "@" for the apex.
func RelativeName(fqdn string, zoneName string) string {
	return dnsutil.TrimDomainName(NormalizeFQDN(fqdn), NormalizeFQDN(zoneName))
}

// CandidateZoneNames lists every suffix of fqdn from longest to shortest, e.g.
// a.b.ok. -> [a.b.ok. b.ok. ok.].
func CandidateZoneNames(fqdn string) []string {
	n := NormalizeFQDN(fqdn)
	if n == "" || n == "." {
		return nil
	}

	offsets := dns.Split(n)
	out := make([]string, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, n[off:])
	}
	return out
}

// SingleChangeInput is a proposed record mutation before zone resolution.
type SingleChangeInput struct {
	ChangeType ChangeType
	InputName  string
	Type       RecordType
	TTL        *int
	Record     RecordData
}

// Validate performs the synchronous, zone independent checks on a change.
func (in *SingleChangeInput) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: change is required", ErrValidation)
	}
	if !in.ChangeType.IsValid() {
		return fmt.Errorf("%w: invalid change type %q", ErrValidation, in.ChangeType)
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: unsupported record type %q", ErrValidation, in.Type)
	}

	in.InputName = NormalizeFQDN(in.InputName)
	if err := ValidateFQDN(in.InputName); err != nil {
		return err
	}

	if in.ChangeType == ChangeTypeDeleteRecordSet {
		return nil
	}

	if in.TTL != nil && (*in.TTL < MinTTL || *in.TTL > MaxTTL) {
		return fmt.Errorf("%w: ttl must be %d..%d", ErrValidation, MinTTL, MaxTTL)
	}

	in.Record = in.Record.Normalize(in.Type)
	return in.Record.Validate(in.Type)
}

// BatchChangeInput is a batch change as submitted by a caller.
type BatchChangeInput struct {
	Comments *string
	Changes  []SingleChangeInput
}

// Validate checks the whole batch, including conflicts between changes of the same batch.
func (in *BatchChangeInput) Validate(maxChanges int) error {
	if in == nil || len(in.Changes) == 0 {
		return fmt.Errorf("%w: batch change must include at least one change", ErrValidation)
	}
	if maxChanges > 0 && len(in.Changes) > maxChanges {
		return fmt.Errorf("%w: batch change exceeds %d changes", ErrValidation, maxChanges)
	}

	if in.Comments != nil {
		trimmed := strings.TrimSpace(*in.Comments)
		if trimmed == "" {
			in.Comments = nil
		} else if len([]rune(trimmed)) > MaxCommentLength {
			return fmt.Errorf("%w: comments exceed %d characters", ErrValidation, MaxCommentLength)
		} else {
			in.Comments = &trimmed
		}
	}

	seen := make(map[string]struct{}, len(in.Changes))
	addTypes := make(map[string][]RecordType, len(in.Changes))
	for i := range in.Changes {
		change := &in.Changes[i]
		if err := change.Validate(); err != nil {
			return fmt.Errorf("change %d: %w", i, err)
		}

		key := change.ChangeType.String() + "|" + change.InputName + "|" + change.Type.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: change %d: duplicate %s %s for %s in batch", ErrValidation, i, change.ChangeType, change.Type, change.InputName)
		}
		seen[key] = struct{}{}
		if change.ChangeType == ChangeTypeAdd {
			addTypes[change.InputName] = append(addTypes[change.InputName], change.Type)
		}
	}

	// A CNAME cannot share its name with any other record added in the same batch.
	for name, types := range addTypes {
		if len(types) < 2 {
			continue
		}
		for _, t := range types {
			if t == RecordTypeCNAME {
				return fmt.Errorf("%w: CNAME %s conflicts with another change for the same name in batch", ErrValidation, name)
			}
		}
	}

	return nil
}
