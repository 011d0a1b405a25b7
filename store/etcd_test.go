package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

// One embedded etcd serves the whole package; each test gets its own
// namespace.
var (
	etcdOnce     sync.Once
	etcdServer   *embed.Etcd
	etcdDir      string
	etcdEndpoint string
	etcdErr      error
	etcdSeq      atomic.Int32
)

func TestMain(m *testing.M) {
	code := m.Run()
	if etcdServer != nil {
		etcdServer.Close()
	}
	if etcdDir != "" {
		_ = os.RemoveAll(etcdDir)
	}
	os.Exit(code)
}

func localURL() (url.URL, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return url.URL{}, err
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		return url.URL{}, err
	}
	return url.URL{Scheme: "http", Host: addr}, nil
}

func startEmbeddedEtcd() {
	etcdDir, etcdErr = os.MkdirTemp("", "storygen-etcd-")
	if etcdErr != nil {
		return
	}
	clientURL, err := localURL()
	if err != nil {
		etcdErr = err
		return
	}
	peerURL, err := localURL()
	if err != nil {
		etcdErr = err
		return
	}

	cfg := embed.NewConfig()
	cfg.Name = "storygen-test"
	cfg.Dir = etcdDir
	cfg.LogLevel = "error"
	cfg.ListenClientUrls = []url.URL{clientURL}
	cfg.AdvertiseClientUrls = []url.URL{clientURL}
	cfg.ListenPeerUrls = []url.URL{peerURL}
	cfg.AdvertisePeerUrls = []url.URL{peerURL}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		etcdErr = fmt.Errorf("failed to start embedded etcd: %w", err)
		return
	}
	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(30 * time.Second):
		e.Close()
		etcdErr = fmt.Errorf("embedded etcd did not become ready")
		return
	}
	etcdServer = e
	etcdEndpoint = clientURL.String()
}

func newEtcd(t *testing.T, opts EtcdOptions) *EtcdRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("embedded etcd skipped in short mode")
	}
	etcdOnce.Do(startEmbeddedEtcd)
	require.NoError(t, etcdErr)

	opts.Endpoints = []string{etcdEndpoint}
	opts.Namespace = fmt.Sprintf("storygen-test-%d", etcdSeq.Add(1))
	repo, err := NewEtcdRepository(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newEtcdTiered(t *testing.T, opts ...Option) *tieredFixture {
	t.Helper()
	c := newClock()
	return newTieredOn(t, newEtcd(t, EtcdOptions{}), c, opts...)
}

// sessionLease returns the lease attached to key.
func sessionLease(t *testing.T, repo *EtcdRepository, key string) clientv3.LeaseID {
	t.Helper()
	resp, err := repo.client.Get(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1, key)
	return clientv3.LeaseID(resp.Kvs[0].Lease)
}

func TestEtcdRepository_KeyLayout(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		want      string
	}{
		{name: "default", namespace: "", want: "/storygen"},
		{name: "bare", namespace: "stories", want: "/stories"},
		{name: "slashes", namespace: "/stories/", want: "/stories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewEtcdRepositoryFromClient(nil, EtcdOptions{Namespace: tt.namespace})
			assert.Equal(t, tt.want+"/sessions/abc", r.sessionKey("abc"))
			assert.Equal(t, tt.want+"/status/active/", r.statusPrefix(session.StatusActive))
			assert.Equal(t, tt.want+"/owner/alice/", r.ownerPrefix("alice"))
			assert.Equal(t, tt.want+"/turns/abc/00000012", r.turnKey("abc", 12))
		})
	}
}

func TestEtcdRepository_TurnKeysSortByOrdinal(t *testing.T) {
	r := NewEtcdRepositoryFromClient(nil, EtcdOptions{})
	assert.Less(t, r.turnKey("abc", 9), r.turnKey("abc", 10))
	assert.Less(t, r.turnKey("abc", 99), r.turnKey("abc", 100))
}

func TestEtcdRepository_Defaults(t *testing.T) {
	r := NewEtcdRepositoryFromClient(nil, EtcdOptions{})
	assert.Equal(t, DefaultRetention, r.retention)
	assert.IsType(t, JSONCodec{}, r.codec)
	assert.Equal(t, "l3", r.Name())
}

func TestNewEtcdRepository_RequiresEndpoints(t *testing.T) {
	_, err := NewEtcdRepository(EtcdOptions{})
	assert.Error(t, err)
}

func TestEtcdRepository_VersionedWrites(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{})

	s := newSession("owner-1", testNow)
	s.Version = 1
	require.NoError(t, repo.Set(ctx, s))
	require.NoError(t, repo.Ping(ctx))

	t.Run("second insert of version 1 conflicts", func(t *testing.T) {
		assert.ErrorIs(t, repo.Set(ctx, s), storyerr.ErrVersionConflict)
	})

	t.Run("next version replaces", func(t *testing.T) {
		next := s.Clone()
		next.Version = 2
		next.Stage = session.StageDepthAnalysis
		require.NoError(t, repo.Set(ctx, next))

		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, session.StageDepthAnalysis, got.Stage)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		stale := s.Clone()
		stale.Version = 2
		assert.ErrorIs(t, repo.Set(ctx, stale), storyerr.ErrVersionConflict)
	})

	t.Run("skipped version conflicts", func(t *testing.T) {
		ahead := s.Clone()
		ahead.Version = 5
		assert.ErrorIs(t, repo.Set(ctx, ahead), storyerr.ErrVersionConflict)
	})
}

func TestEtcdRepository_GetMissAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{})

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTierMiss)

	s := newSession("owner-1", testNow)
	s.Version = 1
	require.NoError(t, repo.Set(ctx, s))
	require.NoError(t, repo.Delete(ctx, s.ID))

	_, err = repo.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrTierMiss)
	turns, err := repo.Turns(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
	owned, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, owned)

	assert.NoError(t, repo.Delete(ctx, "missing"))

	// A deleted id can be created again from version 1.
	again := newSession("owner-1", testNow)
	again.ID = s.ID
	again.Version = 1
	assert.NoError(t, repo.Set(ctx, again))
}

func TestEtcdRepository_LeaseMovesWithEachWrite(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{Retention: time.Hour})

	s := newSession("owner-1", testNow)
	s.Version = 1
	require.NoError(t, repo.Set(ctx, s))

	first := sessionLease(t, repo, repo.sessionKey(s.ID))
	require.NotZero(t, first)
	ttl, err := repo.client.TimeToLive(ctx, first)
	require.NoError(t, err)
	assert.Greater(t, ttl.TTL, int64(0))
	assert.LessOrEqual(t, ttl.TTL, int64(time.Hour/time.Second))

	for _, key := range []string{
		repo.statusPrefix(session.StatusActive) + s.ID,
		repo.ownerPrefix("owner-1") + s.ID,
		repo.turnKey(s.ID, 1),
	} {
		assert.Equal(t, first, sessionLease(t, repo, key), key)
	}

	s.AppendTurn("more", "reply", nil, testNow)
	s.Version = 2
	require.NoError(t, repo.Set(ctx, s))

	second := sessionLease(t, repo, repo.sessionKey(s.ID))
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, sessionLease(t, repo, repo.turnKey(s.ID, 1)))
	assert.Equal(t, second, sessionLease(t, repo, repo.turnKey(s.ID, 2)))

	ttl, err = repo.client.TimeToLive(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl.TTL, "previous lease is revoked")

	// A rejected write leaves the current lease in place.
	stale := s.Clone()
	stale.Version = 2
	require.ErrorIs(t, repo.Set(ctx, stale), storyerr.ErrVersionConflict)
	assert.Equal(t, second, sessionLease(t, repo, repo.sessionKey(s.ID)))
}

func TestEtcdRepository_RetentionRemovesRecord(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{Retention: 2 * time.Second})

	s := newSession("owner-1", testNow)
	s.Version = 1
	require.NoError(t, repo.Set(ctx, s))

	require.Eventually(t, func() bool {
		_, err := repo.Get(ctx, s.ID)
		return errors.Is(err, ErrTierMiss)
	}, 15*time.Second, 200*time.Millisecond)

	turns, err := repo.Turns(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
	active, err := repo.ListByStatus(ctx, session.StatusActive, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	n, err := repo.Purge(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEtcdRepository_Turns(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{})
	c := newClock()

	s := newSession("owner-1", c.Now())
	s.Version = 1
	require.NoError(t, repo.Set(ctx, s))

	for i, v := 0, int64(2); i < 4; i, v = i+1, v+1 {
		c.Advance(time.Minute)
		s.AppendTurn("input", "response", []string{"tag"}, c.Now())
		s.Version = v
		require.NoError(t, repo.Set(ctx, s))
	}

	// Another session's turns share the prefix root but not the range.
	other := newSession("owner-1", c.Now())
	other.Version = 1
	require.NoError(t, repo.Set(ctx, other))

	tests := []struct {
		name  string
		after int
		limit int
		want  []int
	}{
		{name: "all", after: 0, limit: 0, want: []int{1, 2, 3, 4, 5}},
		{name: "after two", after: 2, limit: 0, want: []int{3, 4, 5}},
		{name: "limited", after: 1, limit: 2, want: []int{2, 3}},
		{name: "past the end", after: 5, limit: 0, want: nil},
		{name: "negative after", after: -3, limit: 1, want: []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns, err := repo.Turns(ctx, s.ID, tt.after, tt.limit)
			require.NoError(t, err)

			var got []int
			for _, turn := range turns {
				got = append(got, turn.Number)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	turns, err := repo.Turns(ctx, s.ID, 4, 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, []string{"tag"}, turns[0].ContextTags)
	assert.Equal(t, testNow.Add(4*time.Minute), turns[0].Timestamp)
}

func TestEtcdRepository_Indexes(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{})

	var ids []string
	for i, owner := range []string{"alice", "bob", "alice", "alice"} {
		s := newSession(owner, testNow.Add(time.Duration(i)*time.Second))
		s.Version = 1
		if i == 2 {
			s.Status = session.StatusAbandoned
		}
		require.NoError(t, repo.Set(ctx, s))
		ids = append(ids, s.ID)
	}

	active, err := repo.ListByStatus(ctx, session.StatusActive, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[1], ids[3]}, sessionIDs(active))

	limited, err := repo.ListByStatus(ctx, session.StatusActive, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[1]}, sessionIDs(limited))

	abandoned, err := repo.ListByStatus(ctx, session.StatusAbandoned, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, sessionIDs(abandoned))

	owned, err := repo.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2], ids[3]}, sessionIDs(owned))

	none, err := repo.ListByOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEtcdRepository_StatusChangeMovesIndex(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{})

	s := newSession("owner-1", testNow)
	s.Version = 1
	require.NoError(t, repo.Set(ctx, s))

	require.NoError(t, s.SetStatus(session.StatusExpired, testNow))
	s.Version = 2
	require.NoError(t, repo.Set(ctx, s))

	active, err := repo.ListByStatus(ctx, session.StatusActive, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	expired, err := repo.ListByStatus(ctx, session.StatusExpired, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, sessionIDs(expired))

	resp, err := repo.client.Get(ctx, repo.statusPrefix(session.StatusActive)+s.ID)
	require.NoError(t, err)
	assert.Empty(t, resp.Kvs)
}

func TestEtcdRepository_SkipsLapsedIndexEntries(t *testing.T) {
	ctx := context.Background()
	repo := newEtcd(t, EtcdOptions{})

	kept := newSession("owner-1", testNow)
	kept.Version = 1
	require.NoError(t, repo.Set(ctx, kept))

	lapsed := newSession("owner-1", testNow)
	lapsed.Version = 1
	require.NoError(t, repo.Set(ctx, lapsed))

	// The session record is gone but its index entries remain.
	_, err := repo.client.Delete(ctx, repo.sessionKey(lapsed.ID))
	require.NoError(t, err)

	owned, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, sessionIDs(owned))

	active, err := repo.ListByStatus(ctx, session.StatusActive, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, sessionIDs(active))
}

func TestStore_SaveWritesThroughOnEtcd(t *testing.T) {
	testSaveWritesThrough(t, newEtcdTiered)
}

func TestStore_VersionConflictsOnEtcd(t *testing.T) {
	testVersionConflicts(t, newEtcdTiered)
}
