package models

import "sync"

// A sequential id generator.
type SequentialIDGenerator struct {
	mutex       sync.Mutex
	currentID   uint32
	reusableIDs map[uint32]struct{}
}

// New returns a sequental id. The smallest reusable id is returned first.
func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.reusableIDs) != 0 {
		var smallest uint32
		for id := range g.reusableIDs {
			if smallest == 0 || id < smallest {
				smallest = id
			}
		}
		delete(g.reusableIDs, smallest)
		return smallest
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Reusable ids are returned in priority
// when using New. Ids never returned by New are ignored.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	if g.reusableIDs == nil {
		g.reusableIDs = make(map[uint32]struct{})
	}
	g.reusableIDs[id] = struct{}{}
}

// Reserve makes sure New never returns id unless it is released with Reuse.
func (g *SequentialIDGenerator) Reserve(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	delete(g.reusableIDs, id)
	for g.currentID < id {
		g.currentID++
		if g.currentID != id {
			if g.reusableIDs == nil {
				g.reusableIDs = make(map[uint32]struct{})
			}
			g.reusableIDs[g.currentID] = struct{}{}
		}
	}
}
