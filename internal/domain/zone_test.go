package domain

import "testing"

func strPtr(v string) *string { return &v }

func TestAccessLevelAllows(t *testing.T) {
	t.Parallel()

	if !AccessLevelDelete.Allows(AccessLevelWrite) {
		t.Fatal("Delete should allow Write")
	}
	if !AccessLevelWrite.Allows(AccessLevelWrite) {
		t.Fatal("Write should allow Write")
	}
	if AccessLevelRead.Allows(AccessLevelWrite) {
		t.Fatal("Read should not allow Write")
	}
	if AccessLevelNoAccess.Allows(AccessLevelRead) {
		t.Fatal("NoAccess should not allow anything")
	}
}

func TestACLRuleAppliesTo(t *testing.T) {
	t.Parallel()

	user := &User{ID: "list-batch-summaries-id", GroupIDs: []string{"g1"}}

	tests := []struct {
		name string
		rule ACLRule
		rec  string
		typ  RecordType
		want bool
	}{
		{name: "user rule", rule: ACLRule{UserID: strPtr("list-batch-summaries-id")}, rec: "test-first", typ: RecordTypeCNAME, want: true},
		{name: "other user", rule: ACLRule{UserID: strPtr("someone-else")}, rec: "test-first", typ: RecordTypeCNAME, want: false},
		{name: "group rule", rule: ACLRule{GroupID: strPtr("g1")}, rec: "test-first", typ: RecordTypeCNAME, want: true},
		{name: "other group", rule: ACLRule{GroupID: strPtr("g2")}, rec: "test-first", typ: RecordTypeCNAME, want: false},
		{name: "everyone", rule: ACLRule{}, rec: "x", typ: RecordTypeA, want: true},
		{name: "record type filter miss", rule: ACLRule{RecordTypes: []RecordType{RecordTypeA}}, rec: "x", typ: RecordTypeCNAME, want: false},
		{name: "record mask hit", rule: ACLRule{RecordMask: strPtr("test-.*")}, rec: "test-last", typ: RecordTypeCNAME, want: true},
		{name: "record mask miss", rule: ACLRule{RecordMask: strPtr("test-.*")}, rec: "prod", typ: RecordTypeCNAME, want: false},
		{name: "invalid mask", rule: ACLRule{RecordMask: strPtr("(")}, rec: "x", typ: RecordTypeA, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.rule.AppliesTo(user, tt.rec, tt.typ); got != tt.want {
				t.Fatalf("AppliesTo() = %v, want %v", got, tt.want)
			}
		})
	}
}
