package audio

import (
	"errors"
	"slices"
	"sort"
	"sync"
)

var ErrPoolFull = errors.New("no free stream slot")

// Pool owns the live streams, at most one per id, each holding a distinct
// slot index in [0, size).
type Pool struct {
	mu      sync.Mutex
	slots   []string
	streams map[string]*Stream
}

func NewPool(size int) *Pool {
	return &Pool{slots: make([]string, size), streams: make(map[string]*Stream)}
}

// Add builds a stream for id on the lowest free slot. An existing stream
// for id is torn down first and its slot reused.
func (p *Pool) Add(id string, build func(index int) *Stream) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	index := -1
	if old, ok := p.streams[id]; ok {
		old.Teardown()
		delete(p.streams, id)
		index = old.Index
	} else {
		for i, owner := range p.slots {
			if owner == "" {
				index = i
				break
			}
		}
	}
	if index < 0 {
		return nil, ErrPoolFull
	}

	s := build(index)
	p.slots[index] = id
	p.streams[id] = s
	return s, nil
}

func (p *Pool) Get(id string) (*Stream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[id]
	return s, ok
}

// Release tears down the stream for id and frees its slot.
func (p *Pool) Release(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.release(id)
}

func (p *Pool) release(id string) bool {
	s, ok := p.streams[id]
	if !ok {
		return false
	}
	s.Teardown()
	delete(p.streams, id)
	p.slots[s.Index] = ""
	return true
}

// ReleaseAll tears down every stream except those listed in keep.
func (p *Pool) ReleaseAll(keep ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.streams {
		if !slices.Contains(keep, id) {
			p.release(id)
		}
	}
}

// List returns the live streams ordered by slot.
func (p *Pool) List() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Stream, 0, len(p.streams))
	for _, s := range p.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.streams)
}
