package creds

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/riotp/broker/log"
)

// FlatFile is a Credentials backend backed by a colon-delimited text
// file, one account per line:
//
//	name:password:multilogin
//
// where multilogin is `true`/`false` (ParseBool-style tokens are not
// needed here; it is a plain strconv.ParseBool). Lines starting with
// `#` and blank lines are ignored. The file is watched with fsnotify so
// password rotations or added accounts take effect without restarting
// riotpd, mirroring the teacher's config-overlay hot-reload idiom.
type FlatFile struct {
	mu       sync.RWMutex
	accounts map[string]account
	path     string
	lg       *log.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

type account struct {
	password   string
	multiLogin bool
}

// NewFlatFile loads path and begins watching it for changes. lg may be
// nil, in which case reload errors are simply ignored (the last good
// load stays in effect).
func NewFlatFile(path string, lg *log.Logger) (*FlatFile, error) {
	ff := &FlatFile{
		path: path,
		lg:   lg,
		done: make(chan struct{}),
	}
	if err := ff.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creds: failed to start watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("creds: failed to watch %q: %w", path, err)
	}
	ff.watcher = w
	go ff.watchLoop()
	return ff, nil
}

// Close stops the background file watcher.
func (ff *FlatFile) Close() error {
	close(ff.done)
	if ff.watcher != nil {
		return ff.watcher.Close()
	}
	return nil
}

func (ff *FlatFile) watchLoop() {
	for {
		select {
		case ev, ok := <-ff.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := ff.reload(); err != nil && ff.lg != nil {
					ff.lg.Error("credentials file reload failed", log.KV("path", ff.path), log.KVErr(err))
				} else if ff.lg != nil {
					ff.lg.Info("credentials file reloaded", log.KV("path", ff.path))
				}
			}
		case err, ok := <-ff.watcher.Errors:
			if !ok {
				return
			}
			if ff.lg != nil {
				ff.lg.Error("credentials file watcher error", log.KVErr(err))
			}
		case <-ff.done:
			return
		}
	}
}

func (ff *FlatFile) reload() error {
	fin, err := os.Open(ff.path)
	if err != nil {
		return err
	}
	defer fin.Close()

	accounts := make(map[string]account)
	sc := bufio.NewScanner(fin)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == `` || strings.HasPrefix(line, `#`) {
			continue
		}
		parts := strings.SplitN(line, `:`, 3)
		if len(parts) != 3 {
			return fmt.Errorf("creds: %s:%d: expected name:password:multilogin", ff.path, lineNo)
		}
		ml, err := strconv.ParseBool(parts[2])
		if err != nil {
			return fmt.Errorf("creds: %s:%d: invalid multilogin value %q", ff.path, lineNo, parts[2])
		}
		accounts[parts[0]] = account{password: parts[1], multiLogin: ml}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	ff.mu.Lock()
	ff.accounts = accounts
	ff.mu.Unlock()
	return nil
}

// Check implements Credentials.
func (ff *FlatFile) Check(name, password string) (Result, error) {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	a, ok := ff.accounts[name]
	if !ok || a.password != password {
		return Result{}, nil
	}
	return Result{Trusted: true, MultiLogin: a.multiLogin}, nil
}
