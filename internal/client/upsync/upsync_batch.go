package upsync

// Batches groups surviving changes by destination. Destinations keep the order
// in which they were first seen, and each group keeps its input order.
type Batches struct {
	order []Destination
	items map[Destination][]*AccumulatedChange
}

// GroupByDestination partitions changes by their Destination.
func GroupByDestination(changes []*AccumulatedChange) *Batches {
	b := &Batches{
		items: make(map[Destination][]*AccumulatedChange),
	}
	for _, change := range changes {
		if _, ok := b.items[change.Destination]; !ok {
			b.order = append(b.order, change.Destination)
		}
		b.items[change.Destination] = append(b.items[change.Destination], change)
	}
	return b
}

// Len is the number of distinct destinations.
func (b *Batches) Len() int {
	if b == nil {
		return 0
	}
	return len(b.order)
}

// Destinations returns the destinations in first-seen order.
func (b *Batches) Destinations() []Destination {
	if b == nil {
		return nil
	}
	return append([]Destination(nil), b.order...)
}

// Get returns the changes for dest and whether the group exists.
func (b *Batches) Get(dest Destination) ([]*AccumulatedChange, bool) {
	if b == nil {
		return nil, false
	}
	items, ok := b.items[dest]
	return items, ok
}

// Items is the total number of changes over all destinations.
func (b *Batches) Items() int {
	n := 0
	if b == nil {
		return n
	}
	for _, items := range b.items {
		n += len(items)
	}
	return n
}

// Each calls fn for every destination in order until fn returns false.
func (b *Batches) Each(fn func(dest Destination, changes []*AccumulatedChange) bool) {
	if b == nil {
		return
	}
	for _, dest := range b.order {
		if !fn(dest, b.items[dest]) {
			return
		}
	}
}

// Chunk splits the changes of dest into request-sized slices.
func (b *Batches) Chunk(dest Destination, size int) [][]*AccumulatedChange {
	items, _ := b.Get(dest)
	return Chunk(items, size)
}

// Chunk splits changes into slices of at most size elements. A size of zero
// or less returns a single chunk.
func Chunk(changes []*AccumulatedChange, size int) [][]*AccumulatedChange {
	if len(changes) == 0 {
		return nil
	}
	if size <= 0 || len(changes) <= size {
		return [][]*AccumulatedChange{changes}
	}
	chunks := make([][]*AccumulatedChange, 0, (len(changes)+size-1)/size)
	for start := 0; start < len(changes); start += size {
		end := min(start+size, len(changes))
		chunks = append(chunks, changes[start:end])
	}
	return chunks
}
