// Package store persists story sessions across three tiers.
//
// L1 is a process-local map with a short TTL, L2 a shared Redis cache, and
// L3 a durable Repository (SQLite, or etcd for clustered deployments).
// Store reads cache-aside and writes through, with an optimistic version
// check decided by L3:
//
//	repo, err := store.NewSQLiteRepository(store.SQLiteOptions{Path: "data/sessions.db"})
//	if err != nil {
//		return err
//	}
//	st := store.New(repo, store.WithCache(store.NewRedisTier(client)))
//	defer st.Close()
//
// Reads mark sessions that have sat idle past the inactivity timeout as
// EXPIRED. A Sweeper does the same in the background for sessions nobody
// reads, and purges durable records past their retention window.
package store
