package indicator

import "sync"

// MemDriver keeps line levels in memory. It is used headless and in tests.
type MemDriver struct {
	mu     sync.Mutex
	levels map[int]bool
	writes int
}

func NewMemDriver() *MemDriver {
	return &MemDriver{levels: map[int]bool{}}
}

func (d *MemDriver) Pin(n int) (Pin, error) {
	return &memPin{d: d, n: n}, nil
}

func (d *MemDriver) Close() error { return nil }

// Level returns the last level written to line n.
func (d *MemDriver) Level(n int) (high bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	high, ok = d.levels[n]
	return
}

// Writes counts line writes.
func (d *MemDriver) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

type memPin struct {
	d *MemDriver
	n int
}

func (p *memPin) Write(high bool) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.d.levels[p.n] = high
	p.d.writes++
	return nil
}
