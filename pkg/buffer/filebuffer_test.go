package buffer_test

import (
	"testing"

	"github.com/kleascm/avalanche-driver/pkg/buffer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpThenLoadRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := buffer.New(fs, "file_0", []byte("hello"))
	require.NoError(t, b.Dump("/work/file_0"))

	loaded, err := buffer.Load(fs, "file_0", "/work/file_0")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), loaded.Data)
}

func TestApplyModelRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/model.cnf", []byte(
		"ASSERT( file_0_0 = 0h00 );\nASSERT( file_1_2 = 0h41 );\n"), 0o644))

	original := []byte("hello")
	out, changed, err := buffer.ApplyModel(fs, "file_0", original, "/work/model.cnf", 0)
	require.NoError(t, err)
	require.True(t, changed)

	require.Equal(t, len(original), len(out.Data), "applyModel must not change blob length")
	assert.Equal(t, byte(0x00), out.Data[0])
	for i := 1; i < len(original); i++ {
		assert.Equal(t, original[i], out.Data[i], "byte %d not mentioned in model must be unchanged", i)
	}
}

func TestApplyModelNoChangeForUnreferencedBlob(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/model.cnf", []byte(
		"ASSERT( file_1_0 = 0h00 );\n"), 0o644))

	_, changed, err := buffer.ApplyModel(fs, "file_0", []byte("hello"), "/work/model.cnf", 0)
	require.NoError(t, err)
	assert.False(t, changed, "a model with no assertion for this blob must report no change")
}

func TestFilterCheckerOutputIdempotent(t *testing.T) {
	raw := []byte("==1234== Memcheck\n--1234-- using x86\nmain() at foo.c:10\nbar() at foo.c:20\n")
	once := buffer.FilterCheckerOutput(raw)
	twice := buffer.FilterCheckerOutput(once)
	assert.Equal(t, once, twice)
	assert.NotContains(t, string(once), "Memcheck")
	assert.Contains(t, string(once), "main() at foo.c:10")
}

func TestCutQueryAndDumpSplitsInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	trace := []byte("DECL a;\nDECL b;\nQUERY(FALSE);\nDECL c;\nQUERY(FALSE);\n")
	fb := buffer.New(fs, "trace.log", trace)

	ok, err := fb.CutQueryAndDump("/work/curtrace_0.log", true)
	require.NoError(t, err)
	require.True(t, ok)

	first, err := afero.ReadFile(fs, "/work/curtrace_0.log")
	require.NoError(t, err)
	assert.Equal(t, "DECL a;\nDECL b;\nQUERY(FALSE);", string(first))

	ok, err = fb.CutQueryAndDump("/work/curtrace_1.log", true)
	require.NoError(t, err)
	require.True(t, ok)

	second, err := afero.ReadFile(fs, "/work/curtrace_1.log")
	require.NoError(t, err)
	assert.Equal(t, "DECL a;\nDECL b;\n\nDECL c;\nQUERY(FALSE);", string(second),
		"every cut file must carry all preceding declarations")

	ok, err = fb.CutQueryAndDump("/work/curtrace_2.log", true)
	require.NoError(t, err)
	assert.False(t, ok, "no further QUERY(FALSE); records remain")
}

func TestSkipQueryAdvancesWithoutDumping(t *testing.T) {
	fs := afero.NewMemMapFs()
	trace := []byte("DECL a;\nQUERY(FALSE);\nDECL b;\nQUERY(FALSE);\n")
	fb := buffer.New(fs, "trace.log", trace)

	require.True(t, fb.SkipQuery())

	ok, err := fb.CutQueryAndDump("/work/curtrace_0.log", false)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := afero.ReadFile(fs, "/work/curtrace_0.log")
	require.NoError(t, err)
	assert.Equal(t, "DECL a;\n\nDECL b;\nQUERY(FALSE);", string(got))

	require.True(t, fb.SkipQuery())
	assert.False(t, fb.SkipQuery(), "both queries consumed")
}

func TestCountQueries(t *testing.T) {
	trace := []byte("QUERY(FALSE);QUERY(FALSE);QUERY(FALSE);")
	assert.Equal(t, 3, buffer.CountQueries(trace))
}

func TestSocketMessageNamesAreStable(t *testing.T) {
	fs := afero.NewMemMapFs()
	msg := buffer.NewSocketMessage(fs, 2, []byte("payload"))
	assert.Equal(t, "msg_2", msg.Name)
	assert.Equal(t, buffer.SocketName(2), msg.Name)
	assert.Equal(t, []byte("payload"), msg.Data)
}
