package conn

import "github.com/larder-db/larder/value"

// ChunkKeys splits a list of primary-key tuples into chunks that fit under
// the engine's bound-parameter limit, so batched IN (...) queries bind
// safely. width is the number of columns per tuple.
func ChunkKeys(keys [][]value.Value, width, maxVars int) [][][]value.Value {
	if len(keys) == 0 {
		return nil
	}
	if width < 1 {
		width = 1
	}
	perChunk := maxVars / width
	if perChunk < 1 {
		perChunk = 1
	}
	var chunks [][][]value.Value
	for start := 0; start < len(keys); start += perChunk {
		end := start + perChunk
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
