package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// fakeSession embeds a nil Driver; the fake automator only asks IsNew.
type fakeSession struct {
	voyage.Driver
	id     int
	used   atomic.Bool
	closed atomic.Bool
}

func (s *fakeSession) IsNew() bool { return !s.used.Load() }

func (s *fakeSession) MarkUsed() { s.used.Store(true) }

func (s *fakeSession) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int
}

func (f *fakeFactory) NewSession(context.Context) (voyage.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("chrome failed to start")
	}
	s := &fakeSession{id: len(f.sessions)}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) created() []*fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSession(nil), f.sessions...)
}

type searchCall struct {
	term  string
	isNew bool
}

type fakeAutomator struct {
	mu    sync.Mutex
	calls []searchCall
	fn    func(call int, task voyage.SearchTask) (voyage.Snapshot, error)
}

func (a *fakeAutomator) Search(_ context.Context, drv voyage.Driver, task voyage.SearchTask) (voyage.Snapshot, error) {
	a.mu.Lock()
	n := 0
	for _, c := range a.calls {
		if c.term == task.SearchTerm {
			n++
		}
	}
	a.calls = append(a.calls, searchCall{term: task.SearchTerm, isNew: drv.IsNew()})
	a.mu.Unlock()
	if a.fn == nil {
		return voyage.Snapshot{HTML: task.SearchTerm}, nil
	}
	return a.fn(n, task)
}

func (a *fakeAutomator) callsFor(term string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.term == term {
			n++
		}
	}
	return n
}

// echoExtractor returns a record whose next port is the snapshot body.
type echoExtractor struct {
	fail map[string]error
}

func (e echoExtractor) Extract(snap voyage.Snapshot) (*voyage.Record, error) {
	if err := e.fail[snap.HTML]; err != nil {
		return nil, err
	}
	return &voyage.Record{NextPortName: voyage.StringPtr(snap.HTML)}, nil
}

func tasksFor(terms ...string) []voyage.SearchTask {
	tasks := make([]voyage.SearchTask, 0, len(terms))
	for _, term := range terms {
		tasks = append(tasks, voyage.SearchTask{SearchTerm: term, SourceLink: "https://example.test"})
	}
	return tasks
}
