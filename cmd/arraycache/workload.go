package main

import (
	"context"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/arraycache/internal/cache"
	"github.com/objectfs/arraycache/internal/coordinator"
	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/types"
)

// workload drives the cache with random registrations, fetches through the
// result cache, and in-place edits through per-goroutine slot pools.
type workload struct {
	coord   *coordinator.Coordinator
	cache   *cache.SpillingCache
	results *cache.ResultCache[float32]
	points  int
	logger  *logrus.Entry
}

func newWorkload(coord *coordinator.Coordinator, points int, logger *logrus.Logger) (*workload, error) {
	w := &workload{
		coord:  coord,
		cache:  coord.Cache(),
		points: points,
		logger: logger.WithField("component", "workload"),
	}

	results, err := coordinator.NewResultCache[float32](coord)
	if err != nil {
		return nil, err
	}
	w.results = results

	return w, nil
}

// writeBack stores a dirty slot into the cache entry it was loaded from. An
// entry removed in the meantime has nothing to write back to.
func (w *workload) writeBack(id types.ID, buf [][]float32) error {
	err := w.cache.Update(id, types.Floats2D(types.Clone2(buf)))
	if errors.IsCode(err, errors.ErrCodeUnknownID) {
		return nil
	}
	return tolerate(err, w.logger)
}

// tolerate drops spill write failures after logging them: the mutation that
// reported them has already taken effect.
func tolerate(err error, logger *logrus.Entry) error {
	if errors.IsCode(err, errors.ErrCodeSpillWriteFailure) {
		logger.WithError(err).Warn("Pressure check failed")
		return nil
	}
	return err
}

func (w *workload) run(ctx context.Context, seed int64, iterations int) error {
	rng := rand.New(rand.NewSource(seed))
	var ids []types.ID

	// slot buffers are written outside the pool lock, so each goroutine
	// gets its own pool
	slots, err := coordinator.NewSlotPool[types.ID, float32](w.coord, w.writeBack)
	if err != nil {
		return err
	}

	defer func() {
		for _, id := range ids {
			if err := w.cache.Remove(id); err != nil {
				w.logger.WithError(err).WithField("id", id).Warn("Failed to remove entry")
			}
		}
	}()

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch {
		case len(ids) == 0 || rng.Intn(4) == 0:
			var id types.ID
			id, err = w.cache.Register(w.randomArray(rng))
			if id != "" {
				ids = append(ids, id)
			}
		case rng.Intn(2) == 0:
			err = w.transform(ids[rng.Intn(len(ids))])
		default:
			err = w.edit(slots, ids[rng.Intn(len(ids))], rng)
		}
		if err = tolerate(err, w.logger); err != nil {
			return err
		}
	}

	w.logger.WithFields(logrus.Fields{
		"seed":    seed,
		"entries": len(ids),
	}).Debug("Workload finished")
	return nil
}

func (w *workload) randomArray(rng *rand.Rand) types.Floats2D {
	out := types.Floats2D{make([]float32, w.points), make([]float32, w.points)}
	for _, row := range out {
		for i := range row {
			row[i] = rng.Float32()
		}
	}
	return out
}

// transform computes a scaled copy of an entry, memoized by the result cache
func (w *workload) transform(id types.ID) error {
	in, err := cache.FetchAs[types.Floats2D](w.cache, id)
	if in == nil {
		return err
	}
	if err = tolerate(err, w.logger); err != nil {
		return err
	}

	lookup := w.results.Lookup("scale", in)
	if lookup.Hit {
		return nil
	}

	out := make([][]float32, len(in))
	for r, row := range in {
		out[r] = make([]float32, len(row))
		for i, v := range row {
			out[r][i] = v * 2
		}
	}
	w.results.Store("scale", in, out, lookup.Cacheable)
	return nil
}

// edit loads an entry into a slot, perturbs it and marks the slot dirty
func (w *workload) edit(slots *cache.SlotPool[types.ID, float32], id types.ID, rng *rand.Rand) error {
	src, err := cache.FetchAs[types.Floats2D](w.cache, id)
	if src == nil {
		return err
	}
	if err = tolerate(err, w.logger); err != nil {
		return err
	}

	loader := cache.LoaderFunc[float32]{N: len(src[0]), Load: func(buf [][]float32) error {
		for r := range buf {
			if r < len(src) {
				copy(buf[r], src[r])
			} else {
				clear(buf[r])
			}
		}
		return nil
	}}

	buf, _, err := slots.Acquire(id, loader)
	if err != nil {
		return err
	}
	if len(buf[0]) > 0 {
		buf[0][rng.Intn(len(buf[0]))] += 1
	}
	return slots.MarkDirty(id, true)
}
