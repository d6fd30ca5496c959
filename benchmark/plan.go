package benchmark

import "github.com/CJJ1008/speed/storage"

// Shard assigns one reader device a contiguous byte range of the transfer.
type Shard struct {
	Reader int   // reader device id
	Start  int64 // absolute byte offset into the file
	Length int64 // bytes assigned; 0 means the reader sits out
}

// PlanShards splits [offset, offset+totalBytes) across the readers. The
// stripe is the per-reader ceiling share, rounded up to align when block
// alignment is active; each range's length then rounds down to align, so a
// reader may move slightly less than its stripe and the residue is dropped.
// Shards never overlap and stay inside the requested range.
func PlanShards(totalBytes, offset int64, readers []int, align int64) []Shard {
	shards := make([]Shard, 0, len(readers))
	if len(readers) == 0 || totalBytes <= 0 {
		return shards
	}
	stripe := (totalBytes + int64(len(readers)) - 1) / int64(len(readers))
	if align > 1 {
		stripe = storage.AlignUp(stripe, align)
	}
	end := offset + totalBytes
	for i, reader := range readers {
		start := offset + int64(i)*stripe
		if start > end {
			start = end
		}
		length := stripe
		if start+length > end {
			length = end - start
		}
		if align > 1 {
			length = storage.AlignDown(length, align)
		}
		shards = append(shards, Shard{Reader: reader, Start: start, Length: length})
	}
	return shards
}
