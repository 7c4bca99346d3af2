package journal

import (
	"context"
	"sort"
	"sync"
)

// Memory é um Journal em memória com injeção de falhas para testes
type Memory struct {
	mu      sync.Mutex
	records []Record
	byPID   map[string][]int
	failErr error
}

func NewMemory() *Memory {
	return &Memory{byPID: make(map[string][]int)}
}

// FailAppends faz os próximos Append falharem com err; nil restaura o comportamento normal
func (m *Memory) FailAppends(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *Memory) Append(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	pid := records[0].PersistenceID
	var last int64
	if idx := m.byPID[pid]; len(idx) > 0 {
		last = m.records[idx[len(idx)-1]].SeqNr
	}
	for i, r := range records {
		if r.PersistenceID != pid || r.SeqNr != last+int64(i)+1 {
			return ErrSeqConflict
		}
	}

	for _, r := range records {
		r.Offset = int64(len(m.records)) + 1
		m.byPID[pid] = append(m.byPID[pid], len(m.records))
		m.records = append(m.records, r)
	}
	return nil
}

func (m *Memory) Load(_ context.Context, persistenceID string, afterSeq int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, i := range m.byPID[persistenceID] {
		if m.records[i].SeqNr > afterSeq {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *Memory) EventsByTag(_ context.Context, tag string, afterOffset int64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := int(afterOffset)
	if start < 0 {
		start = 0
	}
	var out []Record
	for i := start; i < len(m.records) && (limit <= 0 || len(out) < limit); i++ {
		if m.records[i].Tag == tag {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// All devolve uma cópia de todos os registros, em ordem de offset
func (m *Memory) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// MemorySnapshots guarda os keep snapshots mais recentes por entidade
type MemorySnapshots struct {
	mu    sync.Mutex
	keep  int
	snaps map[string][]Snapshot
}

func NewMemorySnapshots(keep int) *MemorySnapshots {
	if keep <= 0 {
		keep = 1
	}
	return &MemorySnapshots{keep: keep, snaps: make(map[string][]Snapshot)}
}

func (m *MemorySnapshots) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.snaps[s.PersistenceID], s)
	sort.Slice(list, func(i, j int) bool { return list[i].SeqNr > list[j].SeqNr })
	if len(list) > m.keep {
		list = list[:m.keep]
	}
	m.snaps[s.PersistenceID] = list
	return nil
}

func (m *MemorySnapshots) Latest(_ context.Context, persistenceID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.snaps[persistenceID]
	if len(list) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return list[0], nil
}

// List devolve os snapshots retidos, do mais novo para o mais antigo
func (m *MemorySnapshots) List(persistenceID string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snaps[persistenceID]...)
}
