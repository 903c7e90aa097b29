package guestmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageAttributesFromELF(t *testing.T) {
	attr := PageAttributesFromELF(ElfFlagRead | ElfFlagExec)
	require.True(t, attr.Read)
	require.True(t, attr.Exec)
	require.False(t, attr.Write)
}

func TestNewSharedPageRejectsWrongSize(t *testing.T) {
	_, err := NewSharedPage(make([]byte, 10), PageAttributes{Read: true})
	require.Error(t, err)
}

func TestNewOwnedPageIsNotCowOrShared(t *testing.T) {
	p := NewOwnedPage(PageAttributes{Read: true, Write: true})
	require.False(t, p.Attr.IsCow)
	require.False(t, p.Attr.Shared)
	require.Len(t, p.Buf, PageSize)
}
