// internal/view/projector.go
package view

import (
	"sync"

	"github.com/Corphon/StoryboardStudio/internal/store"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

// Sink mounts a render tree, e.g. a websocket connection or a terminal
type Sink interface {
	Mount(tree RenderTree) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(tree RenderTree) error

// Mount implements Sink
func (f SinkFunc) Mount(tree RenderTree) error {
	return f(tree)
}

// Projector keeps sinks in sync with a store
type Projector struct {
	mu      sync.Mutex
	current RenderTree
	seq     uint64 // store sequence of current
	sinks   map[uint64]Sink
	nextID  uint64
	detach  func()
	logger  *utils.Logger
}

// NewProjector creates a projector with no store attached
func NewProjector(logger *utils.Logger) *Projector {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Projector{
		current: Project(store.Snapshot{}),
		sinks:   make(map[uint64]Sink),
		logger:  logger,
	}
}

// Attach subscribes to s and renders its current state right away.
// A previously attached store is detached first.
func (p *Projector) Attach(s *store.Store) {
	p.Detach()

	p.mu.Lock()
	p.current = Project(store.Snapshot{})
	p.seq = 0
	p.mu.Unlock()

	unsubscribe := s.Subscribe(p.render)
	p.mu.Lock()
	p.detach = unsubscribe
	p.mu.Unlock()

	p.render(s.Snapshot())
}

// Detach stops following the attached store
func (p *Projector) Detach() {
	p.mu.Lock()
	detach := p.detach
	p.detach = nil
	p.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// AddSink registers sink and mounts the current tree on it
func (p *Projector) AddSink(sink Sink) (remove func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.sinks[id] = sink
	current := p.current
	p.mu.Unlock()

	p.mount(id, sink, current)

	return func() {
		p.mu.Lock()
		delete(p.sinks, id)
		p.mu.Unlock()
	}
}

// Current returns the last rendered tree
func (p *Projector) Current() RenderTree {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Projector) render(snapshot store.Snapshot) {
	tree := Project(snapshot)

	p.mu.Lock()
	if snapshot.Seq < p.seq {
		// Attach raced with a notification; the newer tree already won
		p.mu.Unlock()
		return
	}
	p.current = tree
	p.seq = snapshot.Seq
	sinks := make(map[uint64]Sink, len(p.sinks))
	for id, sink := range p.sinks {
		sinks[id] = sink
	}
	p.mu.Unlock()

	for id, sink := range sinks {
		p.mount(id, sink, tree)
	}
}

func (p *Projector) mount(id uint64, sink Sink, tree RenderTree) {
	if err := sink.Mount(tree); err != nil {
		p.logger.Warn("Failed to mount render tree", map[string]interface{}{
			"sink":       id,
			"generation": tree.Generation,
			"error":      err.Error(),
		})
	}
}
