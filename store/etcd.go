package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

// EtcdOptions configures an EtcdRepository.
type EtcdOptions struct {
	Endpoints []string

	// Namespace prefixes every key. Default "storygen".
	Namespace string

	// Retention is the lease TTL attached to each write. Zero means
	// DefaultRetention.
	Retention time.Duration

	TLS   *TLSConfig
	Codec Codec

	DialTimeout time.Duration
}

// EtcdRepository is an alternative durable L3 tier on etcd.
//
// Layout under the namespace:
//
//	/sessions/<id>                 encoded session
//	/status/<status>/<id>          index entry
//	/owner/<owner>/<id>            index entry
//	/turns/<id>/<ordinal, 8 digits> encoded turn
//
// Every key of a session shares one lease whose TTL is the durability
// window, so etcd removes the whole record when it lapses. Writes are a
// transaction that compares the etcd key version with the session version,
// which counts puts to the key exactly like Session.Version counts saves.
type EtcdRepository struct {
	client    *clientv3.Client
	namespace string
	retention time.Duration
	codec     Codec
}

// NewEtcdRepository connects to etcd and verifies connectivity.
func NewEtcdRepository(opts EtcdOptions) (*EtcdRepository, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	cfg := clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	}
	tlsCfg, err := opts.TLS.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	cfg.TLS = tlsCfg

	cli, err := clientv3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	r := NewEtcdRepositoryFromClient(cli, opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}
	return r, nil
}

// NewEtcdRepositoryFromClient wraps an existing client. Endpoints, TLS and
// DialTimeout in opts are ignored.
func NewEtcdRepositoryFromClient(cli *clientv3.Client, opts EtcdOptions) *EtcdRepository {
	ns := strings.TrimSuffix(opts.Namespace, "/")
	if ns == "" {
		ns = "storygen"
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &EtcdRepository{
		client:    cli,
		namespace: "/" + strings.TrimPrefix(ns, "/"),
		retention: opts.Retention,
		codec:     codecOrDefault(opts.Codec),
	}
}

func (r *EtcdRepository) sessionKey(id string) string {
	return r.namespace + "/sessions/" + id
}

func (r *EtcdRepository) statusPrefix(status session.Status) string {
	return r.namespace + "/status/" + string(status) + "/"
}

func (r *EtcdRepository) ownerPrefix(owner string) string {
	return r.namespace + "/owner/" + owner + "/"
}

func (r *EtcdRepository) turnPrefix(id string) string {
	return r.namespace + "/turns/" + id + "/"
}

func (r *EtcdRepository) turnKey(id string, ordinal int) string {
	return fmt.Sprintf("%s%08d", r.turnPrefix(id), ordinal)
}

// Name implements Tier.
func (r *EtcdRepository) Name() string { return "l3" }

// Get implements Tier.
func (r *EtcdRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	resp, err := r.client.Get(ctx, r.sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrTierMiss
	}
	return r.decode(resp.Kvs[0].Value)
}

func (r *EtcdRepository) decode(data []byte) (*session.Session, error) {
	var s session.Session
	if err := r.codec.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// Set implements Tier.
func (r *EtcdRepository) Set(ctx context.Context, s *session.Session) error {
	payload, err := r.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	key := r.sessionKey(s.ID)
	prev, err := r.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read current session: %w", err)
	}
	var oldLease clientv3.LeaseID
	if len(prev.Kvs) > 0 {
		oldLease = clientv3.LeaseID(prev.Kvs[0].Lease)
	}

	ttl := int64(r.retention / time.Second)
	if ttl <= 0 {
		ttl = 1
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	withLease := clientv3.WithLease(lease.ID)

	ops := []clientv3.Op{
		clientv3.OpPut(key, string(payload), withLease),
		clientv3.OpPut(r.statusPrefix(s.Status)+s.ID, "", withLease),
		clientv3.OpPut(r.ownerPrefix(s.OwnerID)+s.ID, "", withLease),
	}
	for _, st := range session.Statuses {
		if st != s.Status {
			ops = append(ops, clientv3.OpDelete(r.statusPrefix(st)+s.ID))
		}
	}
	// Turn keys are rewritten so they move to the new lease with the session.
	for _, t := range s.Turns.Turns() {
		data, err := r.codec.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode turn %d: %w", t.Number, err)
		}
		ops = append(ops, clientv3.OpPut(r.turnKey(s.ID, t.Number), string(data), withLease))
	}

	var cmp clientv3.Cmp
	if s.Version <= 1 {
		cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	} else {
		cmp = clientv3.Compare(clientv3.Version(key), "=", s.Version-1)
	}

	txn, err := r.client.Txn(ctx).If(cmp).Then(ops...).Commit()
	if err != nil {
		_, _ = r.client.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if !txn.Succeeded {
		_, _ = r.client.Revoke(context.WithoutCancel(ctx), lease.ID)
		return storyerr.ErrVersionConflict
	}

	if oldLease != 0 && oldLease != lease.ID {
		_, _ = r.client.Revoke(context.WithoutCancel(ctx), oldLease)
	}
	return nil
}

// Delete implements Tier.
func (r *EtcdRepository) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, ErrTierMiss) {
		return nil
	}
	if err != nil {
		return err
	}

	ops := []clientv3.Op{
		clientv3.OpDelete(r.sessionKey(id)),
		clientv3.OpDelete(r.ownerPrefix(s.OwnerID) + id),
		clientv3.OpDelete(r.turnPrefix(id), clientv3.WithPrefix()),
	}
	for _, st := range session.Statuses {
		ops = append(ops, clientv3.OpDelete(r.statusPrefix(st)+id))
	}
	if _, err := r.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListByStatus implements Repository.
func (r *EtcdRepository) ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error) {
	return r.listIndex(ctx, r.statusPrefix(status), limit)
}

// ListByOwner implements Repository.
func (r *EtcdRepository) ListByOwner(ctx context.Context, ownerID string) ([]*session.Session, error) {
	return r.listIndex(ctx, r.ownerPrefix(ownerID), 0)
}

// listIndex resolves index keys under prefix. Ids are UUIDv7, so key order
// is creation order.
func (r *EtcdRepository) listIndex(ctx context.Context, prefix string, limit int) ([]*session.Session, error) {
	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	}
	if limit > 0 {
		opts = append(opts, clientv3.WithLimit(int64(limit)))
	}

	resp, err := r.client.Get(ctx, prefix, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	out := make([]*session.Session, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), prefix)
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrTierMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Turns implements Repository.
func (r *EtcdRepository) Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error) {
	if after < 0 {
		after = 0
	}
	opts := []clientv3.OpOption{
		clientv3.WithRange(clientv3.GetPrefixRangeEnd(r.turnPrefix(id))),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	}
	if limit > 0 {
		opts = append(opts, clientv3.WithLimit(int64(limit)))
	}

	resp, err := r.client.Get(ctx, r.turnKey(id, after+1), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	out := make([]session.Turn, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var t session.Turn
		if err := r.codec.Unmarshal(kv.Value, &t); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Purge implements Repository. Leases already remove lapsed records, so
// there is nothing to do.
func (r *EtcdRepository) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping implements Repository.
func (r *EtcdRepository) Ping(ctx context.Context) error {
	_, err := r.client.Get(ctx, r.namespace+"/health-check")
	return err
}

// Close implements Repository.
func (r *EtcdRepository) Close() error {
	return r.client.Close()
}
