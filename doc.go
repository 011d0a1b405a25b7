// Package storygen runs conversational story-generation sessions.
//
// A session walks a user from a one-line idea to a finished short story
// through a fixed sequence of stages: the idea is scored for depth, a
// personal anecdote is collected, three opening hooks are offered, a
// narrative arc and a pull quote are drafted, three calls to action are
// offered, and the final story is assembled.
//
// # Architecture
//
// The module is layered:
//
//   - session: the Session aggregate, its append-only turn log and slots
//   - engine: the stage transition engine driving generation and retrieval
//   - store: the L1/L2/L3 tiered session store (memory, Redis, SQLite or etcd)
//   - secure: client binding, per-owner caps, revocation and encryption at rest
//   - Service (this package): load, transition, save for each user action
//
// # Getting Started
//
//	repo, err := store.NewSQLiteRepository(store.SQLiteOptions{Path: "sessions.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	st := store.New(repo, store.WithCache(store.NewRedisTier(client)))
//
//	svc, err := storygen.New(generator, retriever, st)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reply, err := svc.Start(ctx, "owner-1", "Tech workers are returning to Richmond")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(reply.Message)
//
// # Error Handling
//
// Every error is a *storyerr.Error carrying a Kind. The sentinels re-exported
// here match with errors.Is:
//
//	if errors.Is(err, storygen.ErrSessionNotFound) {
//	    // start a new session
//	}
package storygen
