package pathfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldIncludeBasics(t *testing.T) {
	f, err := New(
		[]string{"/repo/src"},
		nil,
		[]string{"**/*.o", "**/generated/**"},
		[]string{".c", ".h"},
		"",
	)
	require.NoError(t, err)

	require.True(t, f.ShouldInclude("/repo/src/main.c"))
	require.False(t, f.ShouldInclude("/repo/src/main.cpp"), "extension not admitted")
	require.False(t, f.ShouldInclude("/other/main.c"), "outside include root")
	require.False(t, f.ShouldInclude("/repo/src/obj/main.o"), "extension not admitted anyway")
	require.False(t, f.ShouldInclude("/repo/src/generated/thing.h"), "excluded glob")
}

func TestPruneNestedRoots(t *testing.T) {
	f, err := New(
		[]string{"/repo", "/repo/src", "/repo/src/deep"},
		nil, nil,
		[]string{".c"},
		"",
	)
	require.NoError(t, err)
	require.Len(t, f.includeRoots, 1)
	require.Equal(t, "/repo", f.includeRoots[0])
}

func TestBraceExpansionExclude(t *testing.T) {
	f, err := New(
		[]string{"/repo"},
		nil,
		[]string{"**/*.{o,obj}"},
		[]string{".o", ".obj"},
		"",
	)
	require.NoError(t, err)
	require.False(t, f.ShouldInclude("/repo/build/x.o"))
	require.False(t, f.ShouldInclude("/repo/build/x.obj"))
}

func TestFallbackRootsUsedWhenIncludeEmpty(t *testing.T) {
	f, err := New(nil, []string{"/workspace"}, nil, []string{".c"}, "")
	require.NoError(t, err)
	require.True(t, f.ShouldInclude("/workspace/a.c"))
}
