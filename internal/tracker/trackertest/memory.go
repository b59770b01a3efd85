// Package trackertest provides an in-memory Tracker for tests.
package trackertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// ErrInjected is returned for operations registered with Fail.
var ErrInjected = errors.New("injected tracker failure")

type record struct {
	ticket models.Ticket
	title  string
	body   string
	scope  string
}

// Memory is a concurrency-safe Tracker that keeps tickets in memory. Tickets
// round-trip through the same body markers the real trackers use.
type Memory struct {
	mu      sync.Mutex
	records map[string]*record
	next    int
	fail    map[string]error

	Creates int
	Updates int
	Closes  int
	Lists   int
}

// NewMemory creates an empty Memory tracker.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*record),
		fail:    make(map[string]error),
	}
}

// Fail makes every operation on fingerprint fp return ErrInjected.
func (m *Memory) Fail(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[fp] = ErrInjected
}

// Seed stores a ticket for finding f directly, bypassing the counters.
// managed controls whether the scanglue footer is present.
func (m *Memory) Seed(scope tracker.Scope, f models.Finding, managed bool) models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.store(scope, f)
	if !managed {
		r := m.records[t.ID]
		r.body = strings.TrimSuffix(r.body, tracker.Footer)
		r.ticket.Managed = false
		t.Managed = false
	}
	return t
}

// Mutations returns the number of create, update and close calls.
func (m *Memory) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Creates + m.Updates + m.Closes
}

// Open returns the open tickets of scope ordered by id.
func (m *Memory) Open(scope tracker.Scope) []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open(scope)
}

// Body returns the stored body of a ticket.
func (m *Memory) Body(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r.body
	}
	return ""
}

// ListOpenTickets implements tracker.Tracker.
func (m *Memory) ListOpenTickets(_ context.Context, scope tracker.Scope) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lists++
	return m.open(scope), nil
}

// Create implements tracker.Tracker.
func (m *Memory) Create(_ context.Context, scope tracker.Scope, f models.Finding) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Creates++
	if err := m.fail[f.Fingerprint]; err != nil {
		return models.Ticket{}, err
	}
	return m.store(scope, f), nil
}

// Update implements tracker.Tracker.
func (m *Memory) Update(_ context.Context, scope tracker.Scope, t models.Ticket, f models.Finding) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates++
	if err := m.fail[f.Fingerprint]; err != nil {
		return models.Ticket{}, err
	}
	r, ok := m.records[t.ID]
	if !ok {
		return models.Ticket{}, fmt.Errorf("ticket %s not found", t.ID)
	}
	r.title = tracker.Title(f)
	r.body = tracker.RenderUpdateBody(scope, r.ticket, f)
	m.refresh(r)
	return r.ticket, nil
}

// Close implements tracker.Tracker.
func (m *Memory) Close(_ context.Context, _ tracker.Scope, t models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes++
	if err := m.fail[t.Fingerprint]; err != nil {
		return err
	}
	r, ok := m.records[t.ID]
	if !ok {
		return fmt.Errorf("ticket %s not found", t.ID)
	}
	r.ticket.Status = models.TicketClosed
	return nil
}

func (m *Memory) store(scope tracker.Scope, f models.Finding) models.Ticket {
	m.next++
	id := strconv.Itoa(m.next)
	r := &record{
		ticket: models.Ticket{ID: id, Key: "MEM-" + id, URL: "memory://" + id},
		title:  tracker.Title(f),
		body:   tracker.RenderBody(scope, f),
		scope:  scope.Key(),
	}
	m.records[id] = r
	m.refresh(r)
	return r.ticket
}

func (m *Memory) refresh(r *record) {
	parsed, ok := tracker.TicketFromBody(r.body)
	if !ok {
		return
	}
	parsed.ID = r.ticket.ID
	parsed.Key = r.ticket.Key
	parsed.URL = r.ticket.URL
	parsed.Status = r.ticket.Status
	if parsed.Status == "" {
		parsed.Status = models.TicketOpen
	}
	r.ticket = parsed
}

func (m *Memory) open(scope tracker.Scope) []models.Ticket {
	var out []models.Ticket
	for _, r := range m.records {
		if r.scope == scope.Key() && r.ticket.Status == models.TicketOpen {
			out = append(out, r.ticket)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}
