package gc

import (
	"math"
	"sort"

	"github.com/dftlsim/dftl/internal/blockpool"
	"github.com/dftlsim/dftl/internal/geometry"
	"github.com/dftlsim/dftl/internal/oob"
)

// kind distinguishes the two used-block sets a candidate may come from,
// since cleaning a data block and cleaning a translation block are
// different operations.
type kind uint8

const (
	dataBlock kind = iota
	transBlock
)

// candidate is one block under consideration for collection.
type candidate struct {
	pbn         geometry.PBN
	kind        kind
	validRatio  float64
	benefitCost float64
	seq         int
}

// victimQueue is a container/heap max-heap on benefitCost, ties broken by
// insertion sequence.
type victimQueue []*candidate

func (q victimQueue) Len() int { return len(q) }

func (q victimQueue) Less(i, j int) bool {
	if q[i].benefitCost != q[j].benefitCost {
		return q[i].benefitCost > q[j].benefitCost
	}
	return q[i].seq < q[j].seq
}

func (q victimQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *victimQueue) Push(x any) { *q = append(*q, x.(*candidate)) }

func (q *victimQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// buildCandidates scans every data- and translation-used block except those
// under an active write cursor, scoring each by benefit/cost. Blocks are
// ordered by PBN before sequence numbers are assigned: the block pool does
// not retain per-block allocation order, so ascending PBN is the
// deterministic stand-in for "insertion order" the tie-break rule needs.
// now is the current value of the OOB area's invalidation clock (see
// oob.Area.CurrentInvalidationClock), not the host-write timestamp clock —
// ages must keep moving across a GC pass, not freeze until the next host
// write.
func buildCandidates(pool *blockpool.DevicePool, area *oob.Area, now uint64) []*candidate {
	excluded := pool.CurrentBlocks()

	type pending struct {
		pbn  geometry.PBN
		kind kind
	}
	var pendings []pending
	for _, pbn := range pool.DataUsedBlocks() {
		if _, skip := excluded[pbn]; skip {
			continue
		}
		pendings = append(pendings, pending{pbn, dataBlock})
	}
	for _, pbn := range pool.TransUsedBlocks() {
		if _, skip := excluded[pbn]; skip {
			continue
		}
		pendings = append(pendings, pending{pbn, transBlock})
	}
	sort.Slice(pendings, func(i, j int) bool { return pendings[i].pbn < pendings[j].pbn })

	out := make([]*candidate, 0, len(pendings))
	for i, p := range pendings {
		validRatio := area.BlockValidRatio(p.pbn)
		if validRatio >= 1 {
			continue // no gain
		}

		var benefitCost float64
		if validRatio == 0 {
			benefitCost = math.Inf(1)
		} else {
			lastInval, _ := area.LastInvalidation(p.pbn)
			age := float64(now - lastInval)
			benefitCost = age * (1 - validRatio) / (2 * validRatio)
		}

		out = append(out, &candidate{
			pbn:         p.pbn,
			kind:        p.kind,
			validRatio:  validRatio,
			benefitCost: benefitCost,
			seq:         i,
		})
	}
	return out
}
