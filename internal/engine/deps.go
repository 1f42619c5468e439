package engine

// DependencyTable tracks keys with an outstanding hazard request. Counts
// allow several hazards per key, although the scheduler never issues a
// second one while the first is outstanding.
type DependencyTable struct {
	keys map[string]int
}

func NewDependencyTable() *DependencyTable {
	return &DependencyTable{keys: make(map[string]int)}
}

func (d *DependencyTable) Add(key string) {
	d.keys[key]++
}

// Release drops one outstanding hazard for key.
func (d *DependencyTable) Release(key string) {
	n, ok := d.keys[key]
	if !ok {
		return
	}
	if n <= 1 {
		delete(d.keys, key)
		return
	}
	d.keys[key] = n - 1
}

func (d *DependencyTable) Contains(key string) bool {
	_, ok := d.keys[key]
	return ok
}

func (d *DependencyTable) Len() int {
	return len(d.keys)
}
