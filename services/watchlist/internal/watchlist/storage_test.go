package watchlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tv-watchlist/services/watchlist/internal/kv"
)

// scriptedKV is a kv.Store over memory whose operations can be made to fail.
type scriptedKV struct {
	*kv.Memory

	mu       sync.Mutex
	getErrs  []error
	setErrs  []error
	gets     int
	sets     int
	deletes  int
	setCalls []string
}

func newScriptedKV() *scriptedKV { return &scriptedKV{Memory: kv.NewMemory()} }

func (s *scriptedKV) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	s.gets++
	var err error
	if len(s.getErrs) > 0 {
		err, s.getErrs = s.getErrs[0], s.getErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return s.Memory.Get(ctx, key)
}

func (s *scriptedKV) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.sets++
	var err error
	if len(s.setErrs) > 0 {
		err, s.setErrs = s.setErrs[0], s.setErrs[1:]
	}
	if err == nil {
		s.setCalls = append(s.setCalls, value)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *scriptedKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.Memory.Delete(ctx, key)
}

func (s *scriptedKV) raw(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := s.Memory.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	return v, ok
}

func (s *scriptedKV) put(t *testing.T, v string) {
	t.Helper()
	require.NoError(t, s.Memory.Set(context.Background(), DefaultKey, v))
}

func fixedClock() time.Time { return time.UnixMilli(1_700_000_000_000) }

func newTestStorage(store kv.Store, opts ...Option) *Storage {
	base := []Option{WithClock(fixedClock), WithRetry(2, time.Millisecond)}
	return NewStorage(store, append(base, opts...)...)
}

func input(id ItemID, title string) ItemInput {
	return ItemInput{ID: id, Title: title, Description: "d", HeaderImage: "h", Movie: "m"}
}

func item(id ItemID, title string) Item {
	return input(id, title).Stamp(fixedClock())
}

func TestGetWatchlist_MissingDocumentIsEmpty(t *testing.T) {
	s := newTestStorage(newScriptedKV())
	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestSaveThenGet_RoundTrip(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store)
	dur := 93.5
	want := []Item{
		item(IntID(1), "A"),
		item(StringID("tt-2"), "B"),
		{ID: IntID(3), Title: "C", Description: "d", HeaderImage: "h", Movie: "m", Duration: &dur, AddedAt: 42},
	}
	require.NoError(t, s.SaveWatchlist(context.Background(), want))

	got, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, _ := store.raw(t)
	assert.Contains(t, raw, `"version":1`)
}

func TestGetWatchlist_UnparseableSelfHeals(t *testing.T) {
	store := newScriptedKV()
	store.put(t, "{not json")
	s := newTestStorage(store)

	_, err := s.GetWatchlist(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindCorruptedData, KindOf(err))
	assert.ErrorIs(t, err, ErrUnparseable)
	_, ok := store.raw(t)
	assert.False(t, ok, "corrupted key must be deleted")

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGetWatchlist_WrongShapeAlsoResets(t *testing.T) {
	for _, doc := range []string{`"hello"`, `42`, `{"version":1,"items":{"id":1}}`, `{"version":"one","items":[]}`, `{"version":1}`} {
		t.Run(doc, func(t *testing.T) {
			store := newScriptedKV()
			store.put(t, doc)
			s := newTestStorage(store)

			_, err := s.GetWatchlist(context.Background())
			require.Error(t, err)
			assert.Equal(t, KindCorruptedData, KindOf(err))
			assert.ErrorIs(t, err, ErrMalformed)
			_, ok := store.raw(t)
			assert.False(t, ok)
		})
	}
}

func TestGetWatchlist_DropsInvalidItemsKeepingOrder(t *testing.T) {
	store := newScriptedKV()
	store.put(t, `{"version":1,"items":[
		{"id":1,"title":"A","description":"d","headerImage":"h","movie":"m"},
		{"id":2,"title":"B"},
		{"id":"x","title":"C","description":"d","headerImage":"h","movie":"m"},
		{"title":"no id","description":"d","headerImage":"h","movie":"m"},
		{"id":4,"title":"D","description":"d","headerImage":"h","movie":"m","duration":12}
	]}`)
	obs := &countingObserver{}
	s := newTestStorage(store, WithObserver(obs))

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []ItemID{IntID(1), StringID("x"), IntID(4)}, []ItemID{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, 2, obs.dropped)
}

func TestScenarioA_AddToEmptyStore(t *testing.T) {
	s := newTestStorage(newScriptedKV())
	_, err := s.AddItem(context.Background(), input(IntID(1), "A"))
	require.NoError(t, err)

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, IntID(1), items[0].ID)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, fixedClock().UnixMilli(), items[0].AddedAt)
}

func TestScenarioB_RemovePreservesOrder(t *testing.T) {
	s := newTestStorage(newScriptedKV())
	ctx := context.Background()
	require.NoError(t, s.SaveWatchlist(ctx, []Item{item(IntID(1), "A"), item(IntID(2), "B"), item(IntID(3), "C")}))

	items, err := s.RemoveItem(ctx, IntID(1))
	require.NoError(t, err)
	assert.Equal(t, []Item{item(IntID(2), "B"), item(IntID(3), "C")}, items)

	got, err := s.GetWatchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestScenarioC_PartiallyValidDocument(t *testing.T) {
	store := newScriptedKV()
	store.put(t, `{"version":1,"items":[{"id":1,"title":"A","description":"d","headerImage":"h","movie":"m"},{"id":2,"title":"B"}]}`)
	s := newTestStorage(store)

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, IntID(1), items[0].ID)
}

func TestScenarioD_LegacyBareArray(t *testing.T) {
	store := newScriptedKV()
	store.put(t, `[{"id":1,"title":"A","description":"d","headerImage":"h","movie":"m","addedAt":1000}]`)
	s := newTestStorage(store)

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1000), items[0].AddedAt)
}

func TestGetWatchlist_LegacyObjectWithoutVersion(t *testing.T) {
	store := newScriptedKV()
	store.put(t, `{"items":[{"id":"a","title":"A","description":"d","headerImage":"h","movie":"m"}]}`)
	items, err := newTestStorage(store).GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestGetWatchlist_FutureVersionAccepted(t *testing.T) {
	store := newScriptedKV()
	store.put(t, `{"version":7,"items":[{"id":1,"title":"A","description":"d","headerImage":"h","movie":"m","extra":true}]}`)
	s := newTestStorage(store)

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	doc, rep, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, doc.Version)
	assert.True(t, rep.Future)
}

func TestGetWatchlist_RetriesNetworkErrors(t *testing.T) {
	store := newScriptedKV()
	store.getErrs = []error{errors.New("Network request failed"), errors.New("connection reset")}
	s := newTestStorage(store)

	items, err := s.GetWatchlist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 3, store.gets)
}

func TestGetWatchlist_NetworkErrorAfterRetries(t *testing.T) {
	store := newScriptedKV()
	netErr := fmt.Errorf("get: %w", kv.ErrUnavailable)
	store.getErrs = []error{netErr, netErr, netErr, netErr}
	s := newTestStorage(store)

	_, err := s.GetWatchlist(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, 3, store.gets, "one attempt plus two retries")
}

func TestBackoff_Linear(t *testing.T) {
	s := NewStorage(kv.NewMemory(), WithRetry(2, time.Second))
	assert.Equal(t, time.Second, s.backoff(0))
	assert.Equal(t, time.Second, s.backoff(1))
	assert.Equal(t, 2*time.Second, s.backoff(2))
}

func TestGetWatchlist_RetryWaitsAreLinear(t *testing.T) {
	store := newScriptedKV()
	store.getErrs = []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}
	s := NewStorage(store, WithRetry(2, 100*time.Millisecond))

	start := time.Now()
	_, err := s.GetWatchlist(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, 3, store.gets)
	// 100ms then 200ms.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 450*time.Millisecond)
}

func TestGetWatchlist_UnknownErrorNotRetried(t *testing.T) {
	store := newScriptedKV()
	store.getErrs = []error{errors.New("native module exploded")}
	s := newTestStorage(store)

	_, err := s.GetWatchlist(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, 1, store.gets)
}

func TestSaveWatchlist_QuotaIsStorageFull(t *testing.T) {
	for _, cause := range []error{errors.New("QuotaExceededError: quota exceeded"), fmt.Errorf("set: %w", kv.ErrQuotaExceeded)} {
		store := newScriptedKV()
		store.setErrs = []error{cause}
		s := newTestStorage(store)

		err := s.SaveWatchlist(context.Background(), []Item{item(IntID(1), "A")})
		require.Error(t, err)
		assert.Equal(t, KindStorageFull, KindOf(err))
		assert.Equal(t, 1, store.sets, "storage full is not retried")
	}
}

func TestSaveWatchlist_RetriesNetworkThenSucceeds(t *testing.T) {
	store := newScriptedKV()
	store.setErrs = []error{errors.New("timeout")}
	s := newTestStorage(store)

	require.NoError(t, s.SaveWatchlist(context.Background(), []Item{item(IntID(1), "A")}))
	assert.Equal(t, 2, store.sets)
}

func TestSaveWatchlist_InvalidItemAbortsWrite(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store)
	bad := item(IntID(2), "B")
	bad.Movie = ""

	err := s.SaveWatchlist(context.Background(), []Item{item(IntID(1), "A"), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidItem)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "movie", ve.Field)
	assert.Equal(t, 0, store.sets)
}

func TestSaveWatchlist_RejectsDuplicateIDs(t *testing.T) {
	s := newTestStorage(newScriptedKV())
	err := s.SaveWatchlist(context.Background(), []Item{item(IntID(1), "A"), item(IntID(1), "A again")})
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestAddItem_ExistingIsNoWrite(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store)
	ctx := context.Background()

	first, err := s.AddItem(ctx, input(IntID(1), "A"))
	require.NoError(t, err)
	second, err := s.AddItem(ctx, input(IntID(1), "A renamed"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.sets)
}

func TestAddItem_StringAndNumberIDsAreDistinct(t *testing.T) {
	s := newTestStorage(newScriptedKV())
	ctx := context.Background()
	_, err := s.AddItem(ctx, input(IntID(1), "A"))
	require.NoError(t, err)
	items, err := s.AddItem(ctx, input(StringID("1"), "A"))
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAddItem_InvalidInput(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store)
	_, err := s.AddItem(context.Background(), ItemInput{ID: IntID(1), Title: "A"})
	require.ErrorIs(t, err, ErrInvalidItem)
	assert.Equal(t, 0, store.sets)
}

func TestRemoveItem_AbsentIsNoop(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store)
	ctx := context.Background()
	require.NoError(t, s.SaveWatchlist(ctx, []Item{item(IntID(1), "A")}))

	items, err := s.RemoveItem(ctx, IntID(99))
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, store.sets)
}

func TestResetWatchlist(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store)
	ctx := context.Background()
	require.NoError(t, s.SaveWatchlist(ctx, []Item{item(IntID(1), "A")}))

	require.NoError(t, s.ResetWatchlist(ctx))
	_, ok := store.raw(t)
	assert.False(t, ok)
}

func TestInspect_DoesNotHeal(t *testing.T) {
	store := newScriptedKV()
	store.put(t, "garbage")
	s := newTestStorage(store)

	_, _, err := s.Inspect(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindCorruptedData, KindOf(err))
	_, ok := store.raw(t)
	assert.True(t, ok)
}

func TestWithKey(t *testing.T) {
	store := newScriptedKV()
	s := newTestStorage(store, WithKey("profile:7"))
	_, err := s.AddItem(context.Background(), input(IntID(1), "A"))
	require.NoError(t, err)

	v, ok, err := store.Memory.Get(context.Background(), "profile:7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, v, `"title":"A"`)
}

type countingObserver struct {
	mu      sync.Mutex
	ops     map[string]int
	dropped int
}

func (o *countingObserver) ObserveOp(op string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string]int{}
	}
	o.ops[op]++
}

func (o *countingObserver) ObserveDropped(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped += n
}
