package reconcile

import (
	"math"
	"math/rand"
	"testing"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoSegmentPool() memory.List {
	return memory.NewList(memory.KindDRAM,
		memory.Desc{Addr: 0x2000, Len: 40, DevID: 1},
		memory.Desc{Addr: 0x3000, Len: 80, DevID: 1},
	)
}

func TestBuildPlanSplitsAcrossRemoteSegments(t *testing.T) {
	plan, err := BuildPlan(Buffer{Base: 0x1000, Len: 100, DevID: 0}, twoSegmentPool())
	require.NoError(t, err)

	assert.Equal(t, []memory.Desc{
		{Addr: 0x1000, Len: 40, DevID: 0},
		{Addr: 0x1028, Len: 60, DevID: 0},
	}, plan.Local.Descs)
	assert.Equal(t, []memory.Desc{
		{Addr: 0x2000, Len: 40, DevID: 1},
		{Addr: 0x3000, Len: 60, DevID: 1},
	}, plan.Remote.Descs)
	assert.Equal(t, uint64(100), plan.TotalBytes)
	assert.Equal(t, 2, plan.Chunks())
	require.NoError(t, plan.Validate())
}

func TestBuildPlanInsufficientRemote(t *testing.T) {
	plan, err := BuildPlan(Buffer{Base: 0x1000, Len: 130}, twoSegmentPool())
	require.ErrorIs(t, err, ErrInsufficientRemote)
	require.ErrorIs(t, err, protocol.ErrCapacity)
	assert.Contains(t, err.Error(), "requested 130 bytes, remote exposes 120")
	assert.Zero(t, plan.Chunks())
}

func TestBuildPlanOnlyZeroLengthSegmentsIsEmpty(t *testing.T) {
	zeros := memory.NewList(memory.KindDRAM, memory.Desc{Addr: 1}, memory.Desc{Addr: 2})
	_, err := BuildPlan(Buffer{Base: 0x1000, Len: 1}, zeros)
	require.ErrorIs(t, err, ErrInsufficientRemote)

	_, err = BuildPlan(Buffer{Base: 0x1000, Len: 1}, memory.NewList(memory.KindDRAM))
	require.ErrorIs(t, err, ErrInsufficientRemote)
}

func TestBuildPlanRejectsBadBuffers(t *testing.T) {
	_, err := BuildPlan(Buffer{Base: 0x1000}, twoSegmentPool())
	require.ErrorIs(t, err, ErrZeroLength)
	require.ErrorIs(t, err, protocol.ErrArgument)

	_, err = BuildPlan(Buffer{Base: math.MaxUint64 - 10, Len: 20}, twoSegmentPool())
	require.ErrorIs(t, err, ErrBufferOverflow)
}

func TestBuildPlanConsumesOnlyNeededPrefix(t *testing.T) {
	plan, err := BuildPlan(Buffer{Base: 0x10, Len: 8, DevID: 3, Kind: memory.KindVRAM}, twoSegmentPool())
	require.NoError(t, err)
	assert.Equal(t, []memory.Desc{{Addr: 0x2000, Len: 8, DevID: 1}}, plan.Remote.Descs)
	assert.Equal(t, []memory.Desc{{Addr: 0x10, Len: 8, DevID: 3}}, plan.Local.Descs)
	assert.Equal(t, memory.KindVRAM, plan.Local.Kind)
	assert.Equal(t, memory.KindDRAM, plan.Remote.Kind)
}

func TestBuildPlanZeroSkipMatchesFilteredList(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		withZeros := memory.List{Kind: memory.KindFile}
		filtered := memory.List{Kind: memory.KindFile}
		for i := 0; i < 1+rng.Intn(12); i++ {
			if rng.Intn(3) == 0 {
				withZeros.Add(memory.Desc{Addr: uint64(rng.Intn(1 << 20)), DevID: 4})
			}
			d := memory.Desc{Addr: uint64(i) << 24, Len: uint64(1 + rng.Intn(4096)), DevID: 4}
			withZeros.Add(d)
			filtered.Add(d)
		}
		want := 1 + uint64(rng.Int63n(int64(filtered.TotalBytes())))
		buf := Buffer{Base: 0x7f0000000000, Len: want, DevID: 0, Kind: memory.KindDRAM}

		a, errA := BuildPlan(buf, withZeros)
		b, errB := BuildPlan(buf, filtered)
		require.NoError(t, errA)
		require.NoError(t, errB)
		require.Equal(t, b, a, "iter=%d", iter)
	}
}

func TestBuildPlanCoverageProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		remote := memory.List{Kind: memory.KindDRAM}
		for i := 0; i < rng.Intn(10); i++ {
			remote.Add(memory.Desc{Addr: uint64(rng.Intn(1 << 30)), Len: uint64(rng.Intn(512)), DevID: 1})
		}
		avail := Available(remote)
		want := uint64(1 + rng.Intn(2048))
		plan, err := BuildPlan(Buffer{Base: 0x1000, Len: want}, remote)
		if want > avail {
			require.ErrorIs(t, err, ErrInsufficientRemote, "iter=%d", iter)
			continue
		}
		require.NoError(t, err, "iter=%d", iter)
		require.NoError(t, plan.Validate())

		// Local chunks are contiguous from the base; remote chunks keep order and start addresses.
		next := uint64(0x1000)
		j := 0
		for i, d := range plan.Local.Descs {
			require.Equal(t, next, d.Addr)
			next += d.Len
			for remote.Descs[j].Len == 0 {
				j++
			}
			require.Equal(t, remote.Descs[j].Addr, plan.Remote.Descs[i].Addr)
			require.LessOrEqual(t, plan.Remote.Descs[i].Len, remote.Descs[j].Len)
			j++
		}
	}
}

func TestPlanValidateDetectsMismatch(t *testing.T) {
	p := Plan{
		Local:      memory.NewList(memory.KindDRAM, memory.Desc{Len: 4}),
		Remote:     memory.NewList(memory.KindDRAM, memory.Desc{Len: 5}),
		TotalBytes: 4,
	}
	require.ErrorIs(t, p.Validate(), ErrPlanMismatch)

	p.Remote.Descs[0].Len = 4
	p.TotalBytes = 9
	require.ErrorIs(t, p.Validate(), ErrPlanMismatch)
}
