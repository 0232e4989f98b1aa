package revisions

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft() Snapshot {
	return Snapshot{
		Title:    "Opening our Lisbon office",
		Slug:     "opening-our-lisbon-office",
		Excerpt:  "We are growing.",
		Body:     "# Lisbon\n\nDoors open in May.",
		Category: "company",
		Status:   "draft",
	}
}

func TestArticleHistoryLifecycle(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	first, changed, err := svc.Commit("art_1", draft(), "Avery Editor", "Create article")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, first.Hash, 7)
	_, err = os.Stat(filepath.Join(dir, "art_1", contentFile))
	require.NoError(t, err)

	published := draft()
	published.Status = "published"
	published.Body += "\n\nUpdated with the address."
	second, changed, err := svc.Commit("art_1", published, "Avery Editor", "Publish article")
	require.NoError(t, err)
	assert.True(t, changed)

	// Unchanged saves do not add a commit.
	same, changed, err := svc.Commit("art_1", published, "Someone Else", "No-op")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, second.Hash, same.Hash)

	history, err := svc.History("art_1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Hash, history[0].Hash)
	assert.Equal(t, "Publish article", history[0].Message)
	assert.Equal(t, "Avery Editor", history[1].Author)

	limited, err := svc.History("art_1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	old, rev, err := svc.Get("art_1", first.Hash)
	require.NoError(t, err)
	assert.Equal(t, draft(), old)
	assert.Equal(t, first.Hash, rev.Hash)
	assert.Equal(t, []string{"body", "status"}, Changes(old, published))
}

func TestHistoryOfUnknownArticleIsEmpty(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("missing", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, _, err = svc.Get("missing", "abc1234")
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestRemoveDeletesRepository(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	_, _, err := svc.Commit("art_rm", draft(), "Avery", "Create")
	require.NoError(t, err)

	require.NoError(t, svc.Remove("art_rm"))
	_, err = os.Stat(filepath.Join(dir, "art_rm"))
	assert.True(t, os.IsNotExist(err))
}

func TestConcurrentCommitsAreSerialised(t *testing.T) {
	svc := New(t.TempDir())
	const writers = 6

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot := draft()
			snapshot.Body = fmt.Sprintf("revision %d", i)
			_, _, err := svc.Commit("art_race", snapshot, "Writer", fmt.Sprintf("Edit %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := svc.History("art_race", 0)
	require.NoError(t, err)
	assert.Len(t, history, writers)
}
