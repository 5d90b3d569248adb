package daerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, KindNone},
		{ErrEOversizedPage, KindEncoding},
		{fmt.Errorf("page 3: %w", ErrEInsufficientShards), KindEncoding},
		{fmt.Errorf("%w: index 9", ErrIIndexOutOfRange), KindIndex},
		{ErrPBadRootPath, KindProof},
		{fmt.Errorf("get: %w", ErrSPruned), KindStore},
		{ErrBHashMismatch, KindBinding},
		{ErrXTimeout, KindSampling},
		{errors.New("disk on fire"), KindUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.kind, KindOf(c.err), "%v", c.err)
	}
}

func TestErrorNames(t *testing.T) {
	wrapped := fmt.Errorf("root 0xab: %w", ErrSPruned)
	require.Equal(t, "Pruned", GetErrorName(wrapped))
	require.Equal(t, "S2", GetErrorCode(wrapped))
	require.Equal(t, "S2_Pruned", GetErrorCodeWithName(wrapped))
	require.Equal(t, "", GetErrorCode(errors.New("plain")))
	require.Equal(t, "No Error", GetErrorName(nil))
}

func TestCatalogueCodesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range catalogue {
		code := GetErrorCode(c.err)
		require.NotEmpty(t, code)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
