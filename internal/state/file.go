package state

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/metrics"
)

const fileHeader = "# dnsup state, do not edit\n# provider host last_ip last_success_unix last_attempt_unix\n"

// fileStore keeps every record in memory and rewrites the whole file on
// each Save. Lines that cannot be parsed are dropped on the next write.
type fileStore struct {
	path    string
	metrics *metrics.Metrics

	mu      sync.Mutex
	records map[Key]Record
}

func NewFileStore(path string, m *metrics.Metrics) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Store("create state dir", err)
	}
	s := &fileStore{
		path:    path,
		metrics: m,
		records: make(map[Key]Record),
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.IncStoreRequest(BackendFile, "read", true)
		return s, nil
	case err != nil:
		// Unreadable state degrades to an empty store.
		m.IncStoreRequest(BackendFile, "read", false)
		slog.Warn("Fail read state file, starting empty", "path", path, "error", err)
		return s, nil
	}
	defer f.Close()

	s.records = parseRecords(f, path)
	m.IncStoreRequest(BackendFile, "read", true)
	return s, nil
}

func parseRecords(r io.Reader, path string) map[Key]Record {
	records := make(map[Key]Record)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, rec, err := parseLine(line)
		if err != nil {
			slog.Warn("Ignoring corrupt state line", "path", path, "line", lineNo, "error", err)
			continue
		}
		records[key] = rec
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Fail scan state file", "path", path, "error", err)
	}
	return records
}

func parseLine(line string) (Key, Record, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return Key{}, Record{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	key := Key{Provider: fields[0], Host: fields[1]}
	var rec Record
	if fields[2] != "-" {
		ip, err := netip.ParseAddr(fields[2])
		if err != nil {
			return Key{}, Record{}, fmt.Errorf("parse ip: %w", err)
		}
		rec.IP = ip
	}
	success, err := parseUnix(fields[3])
	if err != nil {
		return Key{}, Record{}, fmt.Errorf("parse last success: %w", err)
	}
	attempt, err := parseUnix(fields[4])
	if err != nil {
		return Key{}, Record{}, fmt.Errorf("parse last attempt: %w", err)
	}
	rec.LastSuccess, rec.LastAttempt = success, attempt
	return key, rec, nil
}

func parseUnix(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n < 0 {
		return time.Time{}, fmt.Errorf("negative timestamp %d", n)
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(n, 0), nil
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func (s *fileStore) Load(ctx context.Context, key Key) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *fileStore) Save(ctx context.Context, key Key, rec Record) error {
	if strings.ContainsAny(key.Provider+key.Host, " \t\r\n") || key.Provider == "" || key.Host == "" {
		return errs.Store("save", fmt.Errorf("invalid key %q", key.String()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[key]
	s.records[key] = rec
	if err := s.write(); err != nil {
		if existed {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		s.metrics.IncStoreRequest(BackendFile, "update", false)
		return errs.Store("save", err)
	}
	s.metrics.IncStoreRequest(BackendFile, "update", true)
	return nil
}

func (s *fileStore) write() error {
	keys := make([]Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Provider != keys[j].Provider {
			return keys[i].Provider < keys[j].Provider
		}
		return keys[i].Host < keys[j].Host
	})

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	for _, k := range keys {
		rec := s.records[k]
		ip := "-"
		if rec.IP.IsValid() {
			ip = rec.IP.String()
		}
		fmt.Fprintf(&buf, "%s %s %s %s %s\n", k.Provider, k.Host, ip, formatUnix(rec.LastSuccess), formatUnix(rec.LastAttempt))
	}
	return writeFileAtomic(s.path, buf.Bytes())
}

// writeFileAtomic replaces path with data via a synced temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open state dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		slog.Debug("Fail sync state dir", "dir", dir, "error", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	return nil
}
