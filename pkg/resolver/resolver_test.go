package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hashland/pkg/provider"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

type stubProvider struct {
	name       string
	candidates []provider.Candidate
	err        error
	calls      atomic.Int32
	gate       chan struct{}
	lastQuery  provider.Query
	mu         sync.Mutex
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(ctx context.Context, q provider.Query) ([]provider.Candidate, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastQuery = q
	s.mu.Unlock()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.candidates, s.err
}

type stubTranslator struct {
	ids   map[string]string
	calls int
}

func (s *stubTranslator) IMDbID(ctx context.Context, id, kind string) (string, error) {
	s.calls++
	if v, ok := s.ids[id]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

type stubUnblocker struct {
	link   string
	err    error
	magnet string
}

func (s *stubUnblocker) Unblock(ctx context.Context, magnet string) (string, error) {
	s.magnet = magnet
	return s.link, s.err
}

func movie(id string) Request {
	return Request{TitleID: id, MediaKind: "movie", Title: "The Matrix"}
}

func intp(v int) *int { return &v }

func TestFallsBackPastBlockedProvider(t *testing.T) {
	blocked := &stubProvider{name: "first", err: &provider.BlockedError{Provider: "first", StatusCode: 403}}
	second := &stubProvider{name: "second", candidates: []provider.Candidate{
		{Provider: "second", Name: "720p", URL: "http://a"},
		{Provider: "second", Name: "480p", URL: "http://b"},
	}}
	r := New(&stubTranslator{ids: map[string]string{"603": "tt0133093"}}, []provider.Provider{blocked, second}, nil)

	res, err := r.Resolve(context.Background(), movie("603"))
	require.NoError(t, err)
	assert.Equal(t, "second", res.Provider)
	assert.Equal(t, KindURL, res.Kind)
	assert.Equal(t, "http://a", res.URL)
	assert.EqualValues(t, 1, blocked.calls.Load())
}

func TestPrefersHighQualityRegardlessOfPosition(t *testing.T) {
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{
		{Name: "Idx 720p", URL: "http://720"},
		{Name: "Idx 480p", URL: "http://480"},
		{Name: "Idx 1080p", URL: "http://1080"},
	}}
	r := New(nil, []provider.Provider{p}, nil)

	res, err := r.Resolve(context.Background(), movie("tt1"))
	require.NoError(t, err)
	assert.Equal(t, "http://1080", res.URL)
}

func TestFirstCandidateWithoutMarkers(t *testing.T) {
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{
		{Name: "Idx 720p", URL: "http://720"},
		{Name: "Idx 4k lowercase", URL: "http://4k"},
	}}
	res, err := New(nil, []provider.Provider{p}, nil).Resolve(context.Background(), movie("tt1"))
	require.NoError(t, err)
	assert.Equal(t, "http://720", res.URL)
}

func TestAllProvidersFailIsNotFound(t *testing.T) {
	r := New(nil, []provider.Provider{
		&stubProvider{name: "a", err: provider.ErrUpstreamError},
		&stubProvider{name: "b"},
	}, nil)
	_, err := r.Resolve(context.Background(), movie("tt1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdentifierNotFound(t *testing.T) {
	p := &stubProvider{name: "idx"}
	r := New(&stubTranslator{}, []provider.Provider{p}, nil)
	_, err := r.Resolve(context.Background(), movie("42"))
	assert.ErrorIs(t, err, ErrIdentifierNotFound)
	assert.Zero(t, p.calls.Load())
}

func TestIMDbIDsSkipTranslation(t *testing.T) {
	tr := &stubTranslator{}
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{{Name: "x", URL: "http://x"}}}
	_, err := New(tr, []provider.Provider{p}, nil).Resolve(context.Background(), movie("tt0133093"))
	require.NoError(t, err)
	assert.Zero(t, tr.calls)
	assert.Equal(t, "tt0133093", p.lastQuery.ExternalID)
}

func TestPreferredProviderFirst(t *testing.T) {
	a := &stubProvider{name: "alpha", candidates: []provider.Candidate{{Name: "a", URL: "http://a"}}}
	b := &stubProvider{name: "Beta", candidates: []provider.Candidate{{Name: "b", URL: "http://b"}}}
	r := New(nil, []provider.Provider{a, b}, nil)

	req := movie("tt1")
	req.PreferredProvider = "beta"
	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "http://b", res.URL)
	assert.Zero(t, a.calls.Load())

	assert.Equal(t, []string{"alpha", "Beta"}, r.Providers())
}

func TestSeriesQueryCarriesEpisode(t *testing.T) {
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{{Name: "x", URL: "http://x"}}}
	r := New(&stubTranslator{ids: map[string]string{"1396": "tt0903747"}}, []provider.Provider{p}, nil)

	_, err := r.Resolve(context.Background(), Request{TitleID: "1396", MediaKind: "tv", Season: intp(2), Episode: intp(5)})
	require.NoError(t, err)
	assert.Equal(t, provider.Query{ExternalID: "tt0903747", Kind: provider.KindSeries, Season: 2, Episode: 5}, p.lastQuery)
}

func TestDebridSuccess(t *testing.T) {
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{
		{Provider: "idx", Name: "Idx 2160p", InfoHash: testHash, Quality: "2160p", Size: "40 GB"},
	}}
	ub := &stubUnblocker{link: "https://cdn/movie.mkv"}
	res, err := New(nil, []provider.Provider{p}, ub).Resolve(context.Background(), movie("tt1"))
	require.NoError(t, err)

	assert.Equal(t, KindDebrid, res.Kind)
	assert.Equal(t, "url", res.Type)
	assert.Equal(t, "https://cdn/movie.mkv", res.URL)
	assert.Equal(t, "2160p", res.Quality)
	assert.Equal(t, "40 GB", res.Size)
	assert.Contains(t, ub.magnet, "xt=urn:btih:"+testHash)
}

func TestDebridFailureFallsBackToMagnet(t *testing.T) {
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{
		{Name: "Idx 1080p", InfoHash: testHash, Quality: "1080p", Size: "Unknown", Filename: "The Matrix.mkv"},
	}}
	ub := &stubUnblocker{err: errors.New("timeout")}
	res, err := New(nil, []provider.Provider{p}, ub).Resolve(context.Background(), movie("tt1"))
	require.NoError(t, err)

	assert.Equal(t, KindMagnet, res.Kind)
	m, err := metainfo.ParseMagnetUri(res.Magnet)
	require.NoError(t, err)
	assert.Equal(t, testHash, m.InfoHash.HexString())
	assert.Equal(t, "The Matrix.mkv", m.DisplayName)
	assert.Equal(t, "1080p", res.Quality)
}

func TestMagnetWithoutDebridUsesDefaultName(t *testing.T) {
	p := &stubProvider{name: "idx", candidates: []provider.Candidate{{Name: "Idx", InfoHash: testHash}}}
	res, err := New(nil, []provider.Provider{p}, nil).Resolve(context.Background(), movie("tt1"))
	require.NoError(t, err)

	m, err := metainfo.ParseMagnetUri(res.Magnet)
	require.NoError(t, err)
	assert.Equal(t, "video", m.DisplayName)
}

func TestMagnetPassesThroughNonHexHash(t *testing.T) {
	assert.Equal(t, "magnet:?xt=urn:btih:NOTHEX&dn=a+b", Magnet("NOTHEX", "a b"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"movie", Request{TitleID: "1", MediaKind: "movie"}, true},
		{"series", Request{TitleID: "1", MediaKind: "series", Season: intp(1), Episode: intp(1)}, true},
		{"tv alias", Request{TitleID: "1", MediaKind: "TV", Season: intp(1), Episode: intp(2)}, true},
		{"missing id", Request{MediaKind: "movie"}, false},
		{"bad kind", Request{TitleID: "1", MediaKind: "anime"}, false},
		{"series without episode", Request{TitleID: "1", MediaKind: "series", Season: intp(1)}, false},
		{"movie with season", Request{TitleID: "1", MediaKind: "movie", Season: intp(1), Episode: intp(1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			}
		})
	}
}

func TestConcurrentIdenticalRequestsShareOneSearch(t *testing.T) {
	p := &stubProvider{name: "idx", gate: make(chan struct{}), candidates: []provider.Candidate{{Name: "x", URL: "http://x"}}}
	r := New(nil, []provider.Provider{p}, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), movie("tt1"))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.EqualValues(t, 1, p.calls.Load())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, "http://x", res.URL)
	}
}

func TestCancelledLeaderDoesNotFailWaiters(t *testing.T) {
	p := &stubProvider{name: "idx", gate: make(chan struct{}), candidates: []provider.Candidate{{Name: "x", URL: "http://x"}}}
	r := New(nil, []provider.Provider{p}, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(leaderCtx, movie("tt1"))
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	waiter := make(chan *Result, 1)
	go func() {
		res, err := r.Resolve(context.Background(), movie("tt1"))
		assert.NoError(t, err)
		waiter <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(p.gate)

	select {
	case res := <-waiter:
		require.NotNil(t, res)
		assert.Equal(t, "http://x", res.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestCancelledRequestStopsBeforeNextProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubProvider{name: "a", err: provider.ErrUpstreamError}
	second := &stubProvider{name: "b", candidates: []provider.Candidate{{Name: "x", URL: "http://x"}}}
	cancel()

	_, err := New(nil, []provider.Provider{first, second}, nil).Resolve(ctx, movie("tt1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, second.calls.Load())
}
