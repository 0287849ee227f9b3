package domain

import (
	"strings"
	"testing"
	"time"
)

func TestMappingPredicates(t *testing.T) {
	tests := []struct {
		name       string
		data       MappingData
		wantLocal  bool
		wantRemote bool
		wantFull   bool
	}{
		{"local only", MappingData{LocalHost: "a.example", LocalID: "1"}, true, false, false},
		{"remote only", MappingData{LocalHost: "a.example", RemoteHost: "b.example", RemoteID: "42"}, false, true, false},
		{"host without id", MappingData{LocalHost: "a.example", RemoteHost: "b.example"}, false, false, false},
		{"full", MappingData{LocalHost: "a.example", LocalID: "1", RemoteHost: "b.example", RemoteID: "42"}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.data.IsLocal(); got != tt.wantLocal {
				t.Errorf("IsLocal() = %v, want %v", got, tt.wantLocal)
			}
			if got := tt.data.IsRemote(); got != tt.wantRemote {
				t.Errorf("IsRemote() = %v, want %v", got, tt.wantRemote)
			}
			if got := tt.data.IsFull(); got != tt.wantFull {
				t.Errorf("IsFull() = %v, want %v", got, tt.wantFull)
			}
		})
	}
}

func TestMappingKeys(t *testing.T) {
	m := MappingData{LocalHost: "a.example", LocalID: "987", RemoteHost: "b.example", RemoteID: "42"}

	if m.LocalKey() != "a.example:987" {
		t.Errorf("Expected local key 'a.example:987', got '%s'", m.LocalKey())
	}
	if m.RemoteKey() != "a.example:b.example:42" {
		t.Errorf("Expected remote key 'a.example:b.example:42', got '%s'", m.RemoteKey())
	}

	empty := MappingData{LocalHost: "a.example"}
	if empty.LocalKey() != "" || empty.RemoteKey() != "" {
		t.Error("Keys of a mapping without ids should be empty")
	}
}

func TestStatusMappingToString(t *testing.T) {
	m := &StatusMapping{Mapping: Mapping{
		MappingData: MappingData{URI: "https://b.example/users/carol/statuses/42", LocalHost: "a.example", LocalID: "987", RemoteHost: "b.example", RemoteID: "42"},
		UpdatedAt:   time.Now(),
	}}

	result := m.ToString()
	if !strings.Contains(result, "a.example:987") {
		t.Errorf("ToString() should contain local key, got: %s", result)
	}
	if !strings.Contains(result, "https://b.example/users/carol/statuses/42") {
		t.Errorf("ToString() should contain URI, got: %s", result)
	}
}

func TestInstanceRecordFresh(t *testing.T) {
	now := time.Now()
	watermark := now.Add(-48 * time.Hour)

	tests := []struct {
		name    string
		checked *time.Time
		mark    time.Time
		want    bool
	}{
		{"never checked", nil, watermark, false},
		{"checked an hour ago", TimePtr(now.Add(-time.Hour)), watermark, true},
		{"checked two days ago", TimePtr(now.Add(-25 * time.Hour)), watermark, false},
		{"checked before settings changed", TimePtr(now.Add(-time.Hour)), now.Add(-time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := InstanceRecord{Host: "b.example", LastCheckedAt: tt.checked}
			if got := r.Fresh(now, 24*time.Hour, tt.mark); got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchEntryKey(t *testing.T) {
	var b MappingBatch
	sm := StatusMapping{Mapping: Mapping{MappingData: MappingData{LocalHost: "a.example", LocalID: "1", RemoteHost: "b.example", RemoteID: "42"}}}
	am := AccountMapping{Mapping: Mapping{MappingData: MappingData{LocalHost: "a.example", RemoteHost: "b.example", RemoteID: "carol"}}}

	b.PutStatus(LocalStatusIndex, sm)
	b.PutStatusIfAbsent(RemoteStatusIndex, sm)
	b.PutAccountIfAbsent(RemoteAccountIndex, am)

	if b.Len() != 3 {
		t.Fatalf("Expected 3 entries, got %d", b.Len())
	}
	expected := []string{"a.example:1", "a.example:b.example:42", "a.example:b.example:carol"}
	for i, e := range b.Entries {
		if e.Key() != expected[i] {
			t.Errorf("Entry %d: expected key '%s', got '%s'", i, expected[i], e.Key())
		}
	}
	if b.Entries[0].IfAbsent || !b.Entries[1].IfAbsent {
		t.Error("IfAbsent flag not recorded correctly")
	}
}

func TestPostCloneIsDeep(t *testing.T) {
	p := Post{
		ID:          "1",
		Account:     &Account{ID: "7", Acct: "carol@b.example"},
		InReplyToID: StringPtr("0"),
		Reblog:      &Post{ID: "2", Account: &Account{ID: "8"}},
	}

	c := p.Clone()
	*c.InReplyToID = "changed"
	c.Account.ID = "changed"
	c.Reblog.Account.ID = "changed"

	if *p.InReplyToID != "0" || p.Account.ID != "7" || p.Reblog.Account.ID != "8" {
		t.Error("Clone should not share pointers with the original")
	}
}
