package domain

// Index names one of the four mapping lookup tables
type Index int

const (
	LocalStatusIndex Index = iota
	RemoteStatusIndex
	LocalAccountIndex
	RemoteAccountIndex
)

func (i Index) String() string {
	switch i {
	case LocalStatusIndex:
		return "local-status"
	case RemoteStatusIndex:
		return "remote-status"
	case LocalAccountIndex:
		return "local-account"
	case RemoteAccountIndex:
		return "remote-account"
	}
	return "unknown"
}

// BatchEntry is one write of a MappingBatch. Exactly one of Status or
// Account is set, matching Index.
type BatchEntry struct {
	Index    Index
	IfAbsent bool
	Status   *StatusMapping
	Account  *AccountMapping
}

// Key is the lookup key the entry is written under for its index
func (e BatchEntry) Key() string {
	switch e.Index {
	case LocalStatusIndex:
		return e.Status.LocalKey()
	case RemoteStatusIndex:
		return e.Status.RemoteKey()
	case LocalAccountIndex:
		return e.Account.LocalKey()
	case RemoteAccountIndex:
		return e.Account.RemoteKey()
	}
	return ""
}

// MappingBatch collects mapping writes that must land together
type MappingBatch struct {
	Entries []BatchEntry
}

func (b *MappingBatch) PutStatus(index Index, m StatusMapping) {
	b.Entries = append(b.Entries, BatchEntry{Index: index, Status: &m})
}

func (b *MappingBatch) PutStatusIfAbsent(index Index, m StatusMapping) {
	b.Entries = append(b.Entries, BatchEntry{Index: index, IfAbsent: true, Status: &m})
}

func (b *MappingBatch) PutAccount(index Index, m AccountMapping) {
	b.Entries = append(b.Entries, BatchEntry{Index: index, Account: &m})
}

func (b *MappingBatch) PutAccountIfAbsent(index Index, m AccountMapping) {
	b.Entries = append(b.Entries, BatchEntry{Index: index, IfAbsent: true, Account: &m})
}

func (b *MappingBatch) Len() int {
	return len(b.Entries)
}
