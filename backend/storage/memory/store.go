package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/adwski/waypoint/backend/model"
)

type coordKey struct {
	lat, lon float64
}

// MemStore keeps reviews in process memory. Coordinates are expected to be rounded already.
type MemStore struct {
	mx     *sync.Mutex
	db     map[coordKey][]model.Review
	nextID int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[coordKey][]model.Review),
	}
}

func (ms *MemStore) Insert(_ context.Context, review model.Review) (model.Review, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.nextID++
	review.ID = ms.nextID
	key := coordKey{lat: review.Lat, lon: review.Lon}
	ms.db[key] = append(ms.db[key], review)
	return review, nil
}

// QueryByLocation returns reviews at the given point, newest first.
func (ms *MemStore) QueryByLocation(_ context.Context, lat, lon float64) ([]model.Review, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	stored := ms.db[coordKey{lat: lat, lon: lon}]
	out := make([]model.Review, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
