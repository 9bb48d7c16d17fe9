package frontier_test

import (
	"testing"

	"github.com/kleascm/avalanche-driver/pkg/frontier"
	"github.com/kleascm/avalanche-driver/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(name string) *model.Input {
	return model.NewRoot([]model.Blob{{Name: name, Data: []byte(name)}}, model.ModeFiles, 0)
}

func TestPopReturnsHighestScoreFirst(t *testing.T) {
	f := frontier.New()
	f.Insert(frontier.Key{Score: 1, Depth: 0}, input("low"))
	f.Insert(frontier.Key{Score: 5, Depth: 0}, input("high"))
	f.Insert(frontier.Key{Score: 3, Depth: 0}, input("mid"))

	got, key, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "high", got.Blobs[0].Name)
	assert.Equal(t, uint32(5), key.Score)
}

func TestPopBreaksScoreTiesByShallowerDepth(t *testing.T) {
	f := frontier.New()
	f.Insert(frontier.Key{Score: 2, Depth: 5}, input("deep"))
	f.Insert(frontier.Key{Score: 2, Depth: 1}, input("shallow"))

	got, key, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "shallow", got.Blobs[0].Name)
	assert.Equal(t, uint32(1), key.Depth)
}

func TestPopBreaksFullTiesByInsertionOrder(t *testing.T) {
	f := frontier.New()
	f.Insert(frontier.Key{Score: 1, Depth: 1}, input("first"))
	f.Insert(frontier.Key{Score: 1, Depth: 1}, input("second"))

	got, _, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "first", got.Blobs[0].Name)
}

func TestPopSecondHighestLeavesBestInPlace(t *testing.T) {
	f := frontier.New()
	f.Insert(frontier.Key{Score: 5, Depth: 0}, input("best"))
	f.Insert(frontier.Key{Score: 3, Depth: 0}, input("second"))
	f.Insert(frontier.Key{Score: 1, Depth: 0}, input("third"))

	second, _, ok := f.PopSecondHighest()
	require.True(t, ok)
	assert.Equal(t, "second", second.Blobs[0].Name)
	assert.Equal(t, 2, f.Len())

	best, _, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "best", best.Blobs[0].Name)
}

func TestPopSecondHighestRequiresTwoEntries(t *testing.T) {
	f := frontier.New()
	f.Insert(frontier.Key{Score: 1, Depth: 0}, input("only"))
	_, _, ok := f.PopSecondHighest()
	assert.False(t, ok)
}

func TestPopOnEmptyFrontier(t *testing.T) {
	f := frontier.New()
	_, _, ok := f.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, f.Len())
}
