package policy

import "math/bits"

// The functions below decide how far each leaf family reaches. The
// serializer, the sanitizer and FillNative all take their bounds from here.

// basicLen is the number of basic leaves maxLeaf declares.
func basicLen(maxLeaf uint32) int {
	return int(min(maxLeaf, NrBasic-1)) + 1
}

// extdLen is the number of extended leaves maxLeaf declares.
func extdLen(maxLeaf uint32) int {
	return int(min(maxLeaf&0xffff, NrExtd-1)) + 1
}

// cacheLen is the number of live cache subleaves, those before the first
// terminator.
func cacheLen(c *Cache) int {
	i := 0
	for i < NrCache && c.Type(i) != 0 {
		i++
	}

	return i
}

// cacheWireLen is the number of leaf 4 records serialized. The terminator
// itself is sent so the receiver sees where the list ends.
func cacheWireLen(c *Cache) int {
	return min(cacheLen(c)+1, NrCache)
}

// topoLen is the number of live topology subleaves.
func topoLen(t *Topo) int {
	i := 0
	for i < NrTopo && t.Type(i) != 0 {
		i++
	}

	return i
}

// topoWireLen is the number of leaf 0xb records serialized.
func topoWireLen(t *Topo) int {
	return min(topoLen(t)+1, NrTopo)
}

// featLen is the number of leaf 7 subleaves declared by MaxSubleaf.
func featLen(f *Feat) int {
	return int(min(f.MaxSubleaf(), NrFeat-1)) + 1
}

// xstateLen is the number of leaf 0xd subleaves for states: x87 and SSE
// always, then every position up to the highest set bit.
func xstateLen(states uint64) int {
	return min(max(2, bits.Len64(states)), NrXState)
}
