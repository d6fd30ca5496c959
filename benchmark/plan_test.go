package benchmark

import (
	"testing"

	"github.com/CJJ1008/speed/storage"
)

func TestPlanShardsPartition(t *testing.T) {
	cases := []struct {
		name    string
		total   int64
		offset  int64
		readers []int
	}{
		{"single reader", 1 << 20, 0, []int{0}},
		{"two readers even", 2 << 20, 0, []int{0, 1}},
		{"three readers uneven", 10_000_001, 4096, []int{0, 1, 2}},
		{"more readers than bytes", 3, 0, []int{0, 1, 2, 3, 4}},
		{"offset start", 1 << 20, 1 << 16, []int{0, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shards := PlanShards(tc.total, tc.offset, tc.readers, 1)
			if len(shards) != len(tc.readers) {
				t.Fatalf("expected %d shards, got %d", len(tc.readers), len(shards))
			}
			next := tc.offset
			var sum int64
			for i, sh := range shards {
				if sh.Length == 0 {
					continue
				}
				if sh.Start != next {
					t.Fatalf("shard %d starts at %d, expected %d (gap or overlap)", i, sh.Start, next)
				}
				next = sh.Start + sh.Length
				sum += sh.Length
			}
			if sum != tc.total {
				t.Fatalf("shards cover %d bytes, expected %d", sum, tc.total)
			}
			if next != tc.offset+tc.total {
				t.Fatalf("shards end at %d, expected %d", next, tc.offset+tc.total)
			}
		})
	}
}

func TestPlanShardsAlignmentResidue(t *testing.T) {
	const align = storage.BlockSize
	cases := []struct {
		total   int64
		readers int
	}{
		{10_000, 3},
		{1 << 20, 4},
		{(1 << 20) + 1234, 7},
		{align, 2},
	}
	for _, tc := range cases {
		readers := make([]int, tc.readers)
		for i := range readers {
			readers[i] = i
		}
		total := storage.AlignDown(tc.total, align)
		shards := PlanShards(total, 0, readers, align)

		var sum int64
		var next int64
		for _, sh := range shards {
			if sh.Length%align != 0 {
				t.Fatalf("total=%d readers=%d: shard length %d not aligned", tc.total, tc.readers, sh.Length)
			}
			if sh.Length == 0 {
				continue
			}
			if sh.Start < next {
				t.Fatalf("total=%d readers=%d: shard overlap at %d", tc.total, tc.readers, sh.Start)
			}
			next = sh.Start + sh.Length
			sum += sh.Length
		}
		residue := total - sum
		if residue < 0 || residue > int64(tc.readers)*align {
			t.Fatalf("total=%d readers=%d: residue %d exceeds readers*blockSize", tc.total, tc.readers, residue)
		}
	}
}

func TestPlanShardsDirectIOScenario(t *testing.T) {
	// 10000 bytes with direct I/O: effective total rounds down to 8192
	// before planning, and every shard length is a multiple of 4096.
	total := storage.AlignDown(10_000, storage.BlockSize)
	if total != 8192 {
		t.Fatalf("effective total = %d, expected 8192", total)
	}
	shards := PlanShards(total, 0, []int{0, 1, 2}, storage.BlockSize)
	var sum int64
	for _, sh := range shards {
		if sh.Length%storage.BlockSize != 0 {
			t.Fatalf("shard length %d not a multiple of %d", sh.Length, storage.BlockSize)
		}
		sum += sh.Length
	}
	if sum > 8192 || sum%storage.BlockSize != 0 {
		t.Fatalf("moved bytes %d, expected <= 8192 and block-aligned", sum)
	}
}

func TestPlanShardsSingleReaderWholeRange(t *testing.T) {
	shards := PlanShards(123456, 789, []int{2}, 1)
	if len(shards) != 1 {
		t.Fatalf("expected 1 shard, got %d", len(shards))
	}
	sh := shards[0]
	if sh.Reader != 2 || sh.Start != 789 || sh.Length != 123456 {
		t.Fatalf("unexpected shard %+v", sh)
	}
}

func TestPlanShardsEmptyInputs(t *testing.T) {
	if got := PlanShards(0, 0, []int{0, 1}, 1); len(got) != 0 {
		t.Fatalf("expected no shards for zero bytes, got %d", len(got))
	}
	if got := PlanShards(1024, 0, nil, 1); len(got) != 0 {
		t.Fatalf("expected no shards for no readers, got %d", len(got))
	}
}
