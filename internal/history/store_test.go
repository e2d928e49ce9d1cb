package history

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketfeed/internal/model"
)

func sample(ts int64) model.HistorySample {
	return model.HistorySample{
		Timestamp:         ts,
		PriceUSD:          float64(ts) + 100,
		VolumeUSD24Hr:     1000,
		ChangePercent24Hr: 1.5,
	}
}

func TestStore_EvictsOldestBeyondCapacity(t *testing.T) {
	s := NewStore(288)

	for i := int64(1); i <= 300; i++ {
		s.Append("btc-usdt", sample(i))
	}

	got := s.Get("btc-usdt")
	require.Len(t, got, 288)
	assert.Equal(t, int64(13), got[0].Timestamp, "12 oldest samples evicted")
	assert.Equal(t, int64(300), got[len(got)-1].Timestamp)

	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Timestamp, got[i].Timestamp)
	}
}

func TestStore_CapacityPlusOne(t *testing.T) {
	s := NewStore(4)
	for i := int64(1); i <= 5; i++ {
		s.Append("x", sample(i))
	}

	got := s.Get("x")
	require.Len(t, got, 4)
	assert.Equal(t, int64(2), got[0].Timestamp)
	assert.Equal(t, int64(5), got[3].Timestamp)
}

func TestStore_RejectsNonFinite(t *testing.T) {
	s := NewStore(8)

	bad := []model.HistorySample{
		{Timestamp: 1, PriceUSD: math.NaN(), VolumeUSD24Hr: 1, ChangePercent24Hr: 1},
		{Timestamp: 2, PriceUSD: 1, VolumeUSD24Hr: math.Inf(1), ChangePercent24Hr: 1},
		{Timestamp: 3, PriceUSD: 1, VolumeUSD24Hr: 1, ChangePercent24Hr: math.Inf(-1)},
	}
	for _, b := range bad {
		s.Append("eth-usdt", b)
	}

	assert.Equal(t, 0, s.Len("eth-usdt"))
	assert.Empty(t, s.Get("eth-usdt"))
}

func TestStore_UnknownID(t *testing.T) {
	s := NewStore(0)

	got := s.Get("missing")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, DefaultCapacity, s.Capacity())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(4)
	s.Append("x", sample(1))

	got := s.Get("x")
	got[0].PriceUSD = -1

	assert.Equal(t, 101.0, s.Get("x")[0].PriceUSD)
}

func TestStore_AppendBatch(t *testing.T) {
	s := NewStore(4)
	s.AppendBatch(map[string]model.HistorySample{
		"btc-usdt": sample(10),
		"eth-usdt": sample(10),
		"bad":      {Timestamp: 10, PriceUSD: math.NaN()},
	})

	assert.Equal(t, 1, s.Len("btc-usdt"))
	assert.Equal(t, 1, s.Len("eth-usdt"))
	assert.Equal(t, 0, s.Len("bad"))
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := NewStore(16)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 100; i++ {
				s.Append("x", sample(i))
				_ = s.Get("x")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, s.Len("x"))
}
