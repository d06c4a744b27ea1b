package reconciler

// pendingSet parks create events whose parent folder record has not been
// observed yet, keyed by the missing parent path. Entries are replayed once
// the parent record lands.
type pendingSet struct {
	byParent map[string][]string
}

func newPendingSet() *pendingSet {
	return &pendingSet{byParent: make(map[string][]string)}
}

// park records a child path waiting for its parent.
func (p *pendingSet) park(parentPath, childPath string) {
	for _, existing := range p.byParent[parentPath] {
		if existing == childPath {
			return
		}
	}
	p.byParent[parentPath] = append(p.byParent[parentPath], childPath)
}

// take removes and returns the children waiting on a parent path.
func (p *pendingSet) take(parentPath string) []string {
	children := p.byParent[parentPath]
	delete(p.byParent, parentPath)
	return children
}

// drop discards any children parked under a removed parent.
func (p *pendingSet) drop(parentPath string) {
	delete(p.byParent, parentPath)
}

func (p *pendingSet) size() int {
	total := 0
	for _, children := range p.byParent {
		total += len(children)
	}
	return total
}
