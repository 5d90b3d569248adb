package da

import (
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/erasurecoding"
)

// PageLayout describes one page of a blob.
type PageLayout struct {
	Index        uint32 `json:"index"`
	Offset       int    `json:"offset"`
	DataLen      int    `json:"data_len"`
	DataShards   int    `json:"data_shards"`
	ParityShards int    `json:"parity_shards"`
}

func (p PageLayout) TotalShards() int {
	return p.DataShards + p.ParityShards
}

// FirstGlobal is the global index of chunk 0 of the page.
func (p PageLayout) FirstGlobal() uint32 {
	return p.Index * ShardCeiling
}

// Layout is the page split of a blob. It is a pure function of
// (blob length, chunk size), so any holder of those two values can rebuild it.
type Layout struct {
	ChunkSize int          `json:"chunk_size"`
	DataLen   int          `json:"data_len"`
	Pages     []PageLayout `json:"pages"`
	total     int
}

// NewLayout splits dataLen bytes into pages of at most MaxPageBytes. An
// empty blob gets one canonical page with a single zero data shard.
func NewLayout(dataLen int, params Params) (*Layout, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if dataLen < 0 {
		return nil, fmt.Errorf("%w: negative length", daerrors.ErrEInvalidParams)
	}
	cs := int(params.ChunkSize)
	maxPage := params.MaxPageBytes()
	numPages := (dataLen + maxPage - 1) / maxPage
	if numPages == 0 {
		numPages = 1
	}
	if uint64(numPages-1) > MaxPageIndex {
		return nil, fmt.Errorf("%w: %d pages", daerrors.ErrIIndexOutOfRange, numPages)
	}

	l := &Layout{ChunkSize: cs, DataLen: dataLen, Pages: make([]PageLayout, numPages)}
	for i := range l.Pages {
		offset := i * maxPage
		pageLen := dataLen - offset
		if pageLen > maxPage {
			pageLen = maxPage
		}
		k := (pageLen + cs - 1) / cs
		if k == 0 {
			k = 1
		}
		l.Pages[i] = PageLayout{
			Index:        uint32(i),
			Offset:       offset,
			DataLen:      pageLen,
			DataShards:   k,
			ParityShards: erasurecoding.ParityShards(k),
		}
		l.total += l.Pages[i].TotalShards()
	}
	return l, nil
}

// TotalChunks counts data and parity chunks over all pages.
func (l *Layout) TotalChunks() int {
	return l.total
}

// Page returns the layout of page i.
func (l *Layout) Page(i uint32) (PageLayout, bool) {
	if int(i) >= len(l.Pages) {
		return PageLayout{}, false
	}
	return l.Pages[i], true
}

// Contains reports whether global names a chunk of this blob.
func (l *Layout) Contains(global uint32) bool {
	page, chunk := SplitIndex(global)
	p, ok := l.Page(page)
	return ok && int(chunk) < p.TotalShards()
}

// GlobalAt maps a dense ordinal in [0, TotalChunks) to its global index.
func (l *Layout) GlobalAt(ordinal int) (uint32, error) {
	if ordinal < 0 || ordinal >= l.total {
		return 0, fmt.Errorf("%w: ordinal %d of %d", daerrors.ErrIIndexOutOfRange, ordinal, l.total)
	}
	for _, p := range l.Pages {
		if ordinal < p.TotalShards() {
			return GlobalIndex(p.Index, uint32(ordinal))
		}
		ordinal -= p.TotalShards()
	}
	return 0, fmt.Errorf("%w: ordinal", daerrors.ErrIIndexOutOfRange)
}

// ChunkForOffset returns the global index of the data chunk holding blob byte off.
func (l *Layout) ChunkForOffset(off int) (uint32, error) {
	if off < 0 || off >= l.DataLen {
		return 0, fmt.Errorf("%w: offset %d of %d", daerrors.ErrIIndexOutOfRange, off, l.DataLen)
	}
	maxPage := erasurecoding.MaxDataShards * l.ChunkSize
	page := off / maxPage
	chunk := (off % maxPage) / l.ChunkSize
	return GlobalIndex(uint32(page), uint32(chunk))
}
