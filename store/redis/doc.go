// Package redis implements store.Store on Redis. Runs are stored as JSON
// documents, listing uses a Sorted Set scored by creation time and the due
// index is a Sorted Set scored by the next tick time.
//
// The caller owns the client lifecycle; Close never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// Transact and lease claiming use WATCH/MULTI optimistic transactions and
// report flowwork.ErrConflict when a key keeps changing underneath them.
package redis
