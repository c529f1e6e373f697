package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/metrics"
)

const recordPrefix = "record:"

type badgerStore struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

type badgerRecord struct {
	IP          string `json:"ip,omitempty"`
	LastSuccess int64  `json:"lastSuccess"`
	LastAttempt int64  `json:"lastAttempt"`
}

func NewBadgerStore(path string, m *metrics.Metrics) (Store, error) {
	opts := badger.DefaultOptions(path).WithSyncWrites(true)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.Store("open badger db", err)
	}
	return &badgerStore{db: db, metrics: m}, nil
}

func badgerKey(k Key) []byte {
	return []byte(recordPrefix + k.Provider + "/" + k.Host)
}

func (s *badgerStore) Load(ctx context.Context, key Key) (Record, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.metrics.IncStoreRequest(BackendBadger, "read", true)
		return Record{}, false, nil
	}
	if err != nil {
		s.metrics.IncStoreRequest(BackendBadger, "read", false)
		return Record{}, false, errs.Store("load", err)
	}
	s.metrics.IncStoreRequest(BackendBadger, "read", true)

	rec, err := decodeBadgerRecord(raw)
	if err != nil {
		slog.Warn("Ignoring corrupt state record", "key", key.String(), "error", err)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func decodeBadgerRecord(raw []byte) (Record, error) {
	var br badgerRecord
	if err := json.Unmarshal(raw, &br); err != nil {
		return Record{}, err
	}
	var rec Record
	if br.IP != "" {
		ip, err := netip.ParseAddr(br.IP)
		if err != nil {
			return Record{}, fmt.Errorf("parse ip: %w", err)
		}
		rec.IP = ip
	}
	if br.LastSuccess > 0 {
		rec.LastSuccess = time.Unix(br.LastSuccess, 0)
	}
	if br.LastAttempt > 0 {
		rec.LastAttempt = time.Unix(br.LastAttempt, 0)
	}
	return rec, nil
}

func (s *badgerStore) Save(ctx context.Context, key Key, rec Record) error {
	br := badgerRecord{}
	if rec.IP.IsValid() {
		br.IP = rec.IP.String()
	}
	if !rec.LastSuccess.IsZero() {
		br.LastSuccess = rec.LastSuccess.Unix()
	}
	if !rec.LastAttempt.IsZero() {
		br.LastAttempt = rec.LastAttempt.Unix()
	}
	data, err := json.Marshal(br)
	if err != nil {
		s.metrics.IncStoreRequest(BackendBadger, "update", false)
		return errs.Store("encode record", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	s.metrics.IncStoreRequest(BackendBadger, "update", err == nil)
	if err != nil {
		return errs.Store("save", err)
	}
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
