// Package journal keeps an operator audit trail of the commands this console
// issued. It is a record of what was asked and what the backend answered,
// never a source of ticket state.
package journal

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"qms/clinic-console/internal/models"

	"github.com/google/uuid"
)

var ErrChainBroken = errors.New("journal hash chain broken")

type Entry struct {
	TicketID  int64         `json:"ticket_id"`
	Seq       int           `json:"seq"`
	Action    string        `json:"action"`
	Status    models.Status `json:"status"`
	QueueCode string        `json:"queue_code"`
	Note      string        `json:"note,omitempty"`
	Operator  string        `json:"operator,omitempty"`
	RequestID string        `json:"request_id"`
	CreatedAt time.Time     `json:"created_at"`
	PrevHash  string        `json:"prev_hash"`
	Hash      string        `json:"hash"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, ticketID int64) ([]Entry, error)
}

func ComputeHash(prevHash string, entry Entry) string {
	raw := fmt.Sprintf("%s|%d|%d|%s|%s|%s|%s|%s|%s|%s",
		prevHash,
		entry.TicketID,
		entry.Seq,
		entry.Action,
		entry.Status,
		entry.QueueCode,
		entry.Note,
		entry.Operator,
		entry.RequestID,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// Chain fills in the sequence, timestamps and hashes of entry so that it
// follows prev. prev is nil for the first entry of a ticket.
func Chain(prev *Entry, entry Entry, now time.Time) Entry {
	entry.Seq = 1
	entry.PrevHash = ""
	if prev != nil {
		entry.Seq = prev.Seq + 1
		entry.PrevHash = prev.Hash
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}
	entry.CreatedAt = now.UTC()
	entry.Hash = ComputeHash(entry.PrevHash, entry)
	return entry
}

// Verify checks that entries, ordered by Seq, form an unbroken chain.
func Verify(entries []Entry) error {
	prev := ""
	for i, entry := range entries {
		if entry.Seq != i+1 {
			return fmt.Errorf("%w: ticket %d expected seq %d, got %d", ErrChainBroken, entry.TicketID, i+1, entry.Seq)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: ticket %d seq %d prev hash mismatch", ErrChainBroken, entry.TicketID, entry.Seq)
		}
		if ComputeHash(prev, entry) != entry.Hash {
			return fmt.Errorf("%w: ticket %d seq %d hash mismatch", ErrChainBroken, entry.TicketID, entry.Seq)
		}
		prev = entry.Hash
	}
	return nil
}

// Memory is an in-process Recorder used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[int64][]Entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[int64][]Entry), now: time.Now}
}

func (m *Memory) Record(ctx context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.entries[entry.TicketID]
	var prev *Entry
	if len(existing) > 0 {
		prev = &existing[len(existing)-1]
	}
	chained := Chain(prev, entry, m.now())
	m.entries[entry.TicketID] = append(existing, chained)
	return chained, nil
}

func (m *Memory) List(ctx context.Context, ticketID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append([]Entry(nil), m.entries[ticketID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

type Nop struct{}

func (Nop) Record(ctx context.Context, entry Entry) (Entry, error) {
	return entry, nil
}

func (Nop) List(ctx context.Context, ticketID int64) ([]Entry, error) {
	return nil, nil
}
