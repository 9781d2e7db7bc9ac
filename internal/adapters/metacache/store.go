package metacache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// The store is a line-oriented text file:
//
//	kiln-metadata v1 <xxhash64 of body, hex>
//	<0|1>\t<mtime unix nanos>\t<quoted path>
//	...
//
// Entries are sorted by path so identical caches produce identical files.
const storeMagic = "kiln-metadata v1"

// Load replaces the cache contents with the store at path.
// A missing store yields an empty cache. A corrupt store also yields an empty cache
// and returns an ErrCacheIO describing the problem.
func (c *Cache) Load(path string) error {
	//nolint:gosec // Path comes from settings
	data, err := os.ReadFile(path)
	if err != nil {
		c.replace(make(map[string]domain.Meta))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to read metadata store: "+err.Error()), "path", path)
	}

	entries, err := decode(data)
	if err != nil {
		c.replace(make(map[string]domain.Meta))
		return zerr.With(err, "path", path)
	}

	c.replace(entries)
	return nil
}

// Save writes the cache contents to a temporary file next to path and renames it into place.
func (c *Cache) Save(path string) error {
	data := encode(c.snapshot())

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to create state directory: "+err.Error()), "path", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to create temporary store: "+err.Error()), "path", path)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to write metadata store: "+err.Error()), "path", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to sync metadata store: "+err.Error()), "path", path)
	}
	if err := tmp.Close(); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to close metadata store: "+err.Error()), "path", path)
	}
	if err := os.Chmod(tmpName, domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to set store permissions: "+err.Error()), "path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrCacheIO, "failed to replace metadata store: "+err.Error()), "path", path)
	}
	return nil
}

func encode(entries map[string]domain.Meta) []byte {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var body bytes.Buffer
	for _, p := range paths {
		m := entries[p]
		exists := 0
		var nanos int64
		if m.Exists {
			exists = 1
			nanos = m.ModTime.UnixNano()
		}
		fmt.Fprintf(&body, "%d\t%d\t%s\n", exists, nanos, strconv.Quote(p))
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "%s %016x\n", storeMagic, xxhash.Sum64(body.Bytes()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func decode(data []byte) (map[string]domain.Meta, error) {
	header, body, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return nil, corrupt("missing header")
	}

	magic, sum, ok := strings.Cut(string(header), " v1 ")
	if !ok || magic+" v1" != storeMagic {
		return nil, corrupt("unrecognised header")
	}
	want, err := strconv.ParseUint(sum, 16, 64)
	if err != nil {
		return nil, corrupt("malformed checksum")
	}
	if xxhash.Sum64(body) != want {
		return nil, corrupt("checksum mismatch")
	}

	entries := make(map[string]domain.Meta)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 1
	for sc.Scan() {
		line++
		fields := strings.SplitN(sc.Text(), "\t", 3)
		if len(fields) != 3 {
			return nil, zerr.With(corrupt("malformed entry"), "line", line)
		}
		nanos, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, zerr.With(corrupt("malformed mtime"), "line", line)
		}
		p, err := strconv.Unquote(fields[2])
		if err != nil {
			return nil, zerr.With(corrupt("malformed path"), "line", line)
		}
		switch fields[0] {
		case "1":
			entries[p] = domain.Meta{Exists: true, ModTime: time.Unix(0, nanos)}
		case "0":
			entries[p] = domain.Meta{}
		default:
			return nil, zerr.With(corrupt("malformed exists flag"), "line", line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, corrupt(err.Error())
	}
	return entries, nil
}

func corrupt(reason string) error {
	return zerr.Wrap(domain.ErrCacheIO, "corrupt metadata store: "+reason)
}
