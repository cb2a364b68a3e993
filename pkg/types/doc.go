/*
Package types provides the data structures shared by the arraycache components.

# Payloads

A Payload is a numeric array: one of ten shapes formed from five element types
(byte, int16, int32, float32, float64) and two ranks (vector and tuple array).

	p, err := types.PayloadOf([][]float32{xs, ys})
	if err != nil {
		return err // UNSUPPORTED_PAYLOAD_SHAPE
	}
	fmt.Println(types.Describe(p), p.ByteSize()) // float[2][500000] 4000000

Tuple arrays may be ragged; ByteSize sums the actual row lengths.

# Statistics

SpillStats, SlotStats and ResultStats are value snapshots returned by the
cache components. They are safe to retain and marshal.

# Observers

CacheObserver, SlotObserver and ResultObserver receive events from the caches.
NopObserver implements all three.
*/
package types
