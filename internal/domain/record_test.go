package domain

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestParseRecordTypeFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseRecordTypeFromString(" cname ")
	if err != nil {
		t.Fatalf("ParseRecordTypeFromString() unexpected error = %v", err)
	}
	if got != RecordTypeCNAME {
		t.Fatalf("ParseRecordTypeFromString() = %s, want CNAME", got)
	}

	_, err = ParseRecordTypeFromString("SRV")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseRecordTypeFromString() error = %v, want ErrValidation", err)
	}
}

func TestValidateFQDN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "test-first.ok."},
		{name: "without trailing dot", input: "one"},
		{name: "underscore label", input: "_dmarc.ok."},
		{name: "empty", input: "", wantErr: true},
		{name: "root only", input: ".", wantErr: true},
		{name: "empty label", input: "a..ok.", wantErr: true},
		{name: "leading hyphen", input: "-a.ok.", wantErr: true},
		{name: "invalid character", input: "a*b.ok.", wantErr: true},
		{name: "label too long", input: strings.Repeat("a", MaxLabelLength+1) + ".ok.", wantErr: true},
		{name: "escaped dot", input: `a\.b.ok.`, wantErr: true},
		{name: "name too long", input: strings.Repeat("abcdefghi.", 26) + "ok.", wantErr: true},
		{name: "mixed case", input: "Test-First.OK."},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateFQDN(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ValidateFQDN(%q) error = %v, want ErrValidation", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateFQDN(%q) unexpected error = %v", tt.input, err)
			}
		})
	}
}

func TestRecordDataValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     RecordType
		data    RecordData
		wantErr bool
	}{
		{name: "valid A", typ: RecordTypeA, data: RecordData{Address: "1.1.1.1"}},
		{name: "A with IPv6", typ: RecordTypeA, data: RecordData{Address: "fd69::1"}, wantErr: true},
		{name: "valid AAAA", typ: RecordTypeAAAA, data: RecordData{Address: "fd69:27cc:fe91::60"}},
		{name: "AAAA with IPv4", typ: RecordTypeAAAA, data: RecordData{Address: "1.1.1.1"}, wantErr: true},
		{name: "valid CNAME", typ: RecordTypeCNAME, data: RecordData{CName: "one."}},
		{name: "empty CNAME", typ: RecordTypeCNAME, data: RecordData{}, wantErr: true},
		{name: "valid PTR", typ: RecordTypePTR, data: RecordData{PTRDName: "host.ok."}},
		{name: "valid TXT", typ: RecordTypeTXT, data: RecordData{Text: "hello"}},
		{name: "empty TXT", typ: RecordTypeTXT, data: RecordData{}, wantErr: true},
		{name: "valid MX", typ: RecordTypeMX, data: RecordData{Preference: intPtr(10), Exchange: "mail.ok."}},
		{name: "MX without preference", typ: RecordTypeMX, data: RecordData{Exchange: "mail.ok."}, wantErr: true},
		{name: "MX preference overflow", typ: RecordTypeMX, data: RecordData{Preference: intPtr(MaxMXPreference + 1), Exchange: "mail.ok."}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.data.Normalize(tt.typ).Validate(tt.typ)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestCandidateZoneNamesAndRelativeName(t *testing.T) {
	t.Parallel()

	got := CandidateZoneNames("A.b.OK")
	want := []string{"a.b.ok.", "b.ok.", "ok."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CandidateZoneNames() = %v, want %v", got, want)
	}

	if name := RelativeName("test-first.ok.", "ok."); name != "test-first" {
		t.Fatalf("RelativeName() = %q, want test-first", name)
	}
	if name := RelativeName("ok.", "ok."); name != ApexRecordName {
		t.Fatalf("RelativeName() apex = %q, want @", name)
	}
}

func TestBatchChangeInputValidate(t *testing.T) {
	t.Parallel()

	cname := func(name, target string) SingleChangeInput {
		return SingleChangeInput{ChangeType: ChangeTypeAdd, InputName: name, Type: RecordTypeCNAME, TTL: intPtr(200), Record: RecordData{CName: target}}
	}
	addA := func(name string) SingleChangeInput {
		return SingleChangeInput{ChangeType: ChangeTypeAdd, InputName: name, Type: RecordTypeA, Record: RecordData{Address: "1.2.3.4"}}
	}
	del := func(name string, typ RecordType) SingleChangeInput {
		return SingleChangeInput{ChangeType: ChangeTypeDeleteRecordSet, InputName: name, Type: typ}
	}

	tests := []struct {
		name    string
		input   BatchChangeInput
		max     int
		wantErr bool
	}{
		{name: "single cname", input: BatchChangeInput{Changes: []SingleChangeInput{cname("test-first.ok.", "one.")}}},
		{name: "empty", input: BatchChangeInput{}, wantErr: true},
		{name: "too many", input: BatchChangeInput{Changes: []SingleChangeInput{addA("a.ok."), addA("b.ok.")}}, max: 1, wantErr: true},
		{name: "duplicate add", input: BatchChangeInput{Changes: []SingleChangeInput{addA("a.ok."), addA("a.ok.")}}, wantErr: true},
		{name: "cname shares name", input: BatchChangeInput{Changes: []SingleChangeInput{cname("a.ok.", "x."), addA("a.ok.")}}, wantErr: true},
		{name: "delete then add same record", input: BatchChangeInput{Changes: []SingleChangeInput{del("a.ok.", RecordTypeCNAME), cname("a.ok.", "y.")}}},
		{name: "ttl below minimum", input: BatchChangeInput{Changes: []SingleChangeInput{{ChangeType: ChangeTypeAdd, InputName: "a.ok.", Type: RecordTypeA, TTL: intPtr(1), Record: RecordData{Address: "1.2.3.4"}}}}, wantErr: true},
		{name: "comments too long", input: BatchChangeInput{Comments: func() *string { s := strings.Repeat("c", MaxCommentLength+1); return &s }(), Changes: []SingleChangeInput{addA("a.ok.")}}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.input.Validate(tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestBatchChangeInputValidateNormalizes(t *testing.T) {
	t.Parallel()

	comments := "  first  "
	input := BatchChangeInput{
		Comments: &comments,
		Changes: []SingleChangeInput{
			{ChangeType: ChangeTypeAdd, InputName: "Test-First.OK", Type: RecordTypeCNAME, Record: RecordData{CName: "One"}},
		},
	}

	if err := input.Validate(0); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
	if input.Changes[0].InputName != "test-first.ok." {
		t.Fatalf("InputName = %q, want test-first.ok.", input.Changes[0].InputName)
	}
	if input.Changes[0].Record.CName != "one." {
		t.Fatalf("CName = %q, want one.", input.Changes[0].Record.CName)
	}
	if input.Comments == nil || *input.Comments != "first" {
		t.Fatalf("Comments = %v, want first", input.Comments)
	}
}
