package da

import (
	"testing"

	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/stretchr/testify/require"
)

func TestGlobalIndexBijection(t *testing.T) {
	for _, c := range []struct{ page, chunk uint32 }{{0, 0}, {0, 254}, {1, 0}, {1, 38}, {7, 100}, {MaxPageIndex, 254}} {
		g, err := GlobalIndex(c.page, c.chunk)
		require.NoError(t, err)
		p, ch := SplitIndex(g)
		require.Equal(t, c.page, p)
		require.Equal(t, c.chunk, ch)
	}
	g, err := GlobalIndex(1, 38)
	require.NoError(t, err)
	require.Equal(t, uint32(293), g)

	_, err = GlobalIndex(0, ShardCeiling)
	require.ErrorIs(t, err, daerrors.ErrIIndexOutOfRange)
	_, err = GlobalIndex(MaxPageIndex+1, 0)
	require.ErrorIs(t, err, daerrors.ErrIIndexOutOfRange)
}

func TestLayoutConcreteScenario(t *testing.T) {
	params := DefaultParams()
	require.Equal(t, 174080, params.MaxPageBytes())

	l, err := NewLayout(200000, params)
	require.NoError(t, err)
	require.Len(t, l.Pages, 2)
	require.Equal(t, PageLayout{Index: 0, Offset: 0, DataLen: 174080, DataShards: 170, ParityShards: 85}, l.Pages[0])
	require.Equal(t, PageLayout{Index: 1, Offset: 174080, DataLen: 25920, DataShards: 26, ParityShards: 13}, l.Pages[1])
	require.Equal(t, 255+39, l.TotalChunks())

	require.True(t, l.Contains(5))
	require.True(t, l.Contains(254))
	require.True(t, l.Contains(255))
	require.True(t, l.Contains(293))
	require.False(t, l.Contains(294))
	require.False(t, l.Contains(510))

	g, err := l.GlobalAt(255)
	require.NoError(t, err)
	require.Equal(t, uint32(255), g)
	g, err = l.GlobalAt(l.TotalChunks() - 1)
	require.NoError(t, err)
	require.Equal(t, uint32(293), g)
	_, err = l.GlobalAt(l.TotalChunks())
	require.ErrorIs(t, err, daerrors.ErrIIndexOutOfRange)

	g, err = l.ChunkForOffset(174080 + 1500)
	require.NoError(t, err)
	require.Equal(t, uint32(256), g)
	_, err = l.ChunkForOffset(200000)
	require.Error(t, err)
}

func TestLayoutPageBoundaries(t *testing.T) {
	params := Params{ChunkSize: 16, SampleCount: 4}
	max := params.MaxPageBytes()

	l, err := NewLayout(max, params)
	require.NoError(t, err)
	require.Len(t, l.Pages, 1)

	l, err = NewLayout(max+1, params)
	require.NoError(t, err)
	require.Len(t, l.Pages, 2)
	require.Equal(t, 1, l.Pages[1].DataLen)
	require.Equal(t, 1, l.Pages[1].DataShards)
	require.Equal(t, 1, l.Pages[1].ParityShards)

	l, err = NewLayout(2*max, params)
	require.NoError(t, err)
	require.Len(t, l.Pages, 2)

	l, err = NewLayout(0, params)
	require.NoError(t, err)
	require.Len(t, l.Pages, 1)
	require.Equal(t, 0, l.Pages[0].DataLen)
	require.Equal(t, 2, l.TotalChunks())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.ErrorIs(t, Params{ChunkSize: 0, SampleCount: 1}.Validate(), daerrors.ErrEInvalidParams)
	require.ErrorIs(t, Params{ChunkSize: 1024, SampleCount: 0}.Validate(), daerrors.ErrEInvalidParams)
	_, err := NewLayout(10, Params{})
	require.ErrorIs(t, err, daerrors.ErrEInvalidParams)

	info := DefaultParams().Info()
	require.Equal(t, uint32(255), info.ShardCeiling)
	require.Equal(t, uint32(1024), info.ChunkSize)
}
