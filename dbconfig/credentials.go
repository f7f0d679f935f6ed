package dbconfig

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Credentials is the minimal rotatable secret set a credentials file
// carries: a user and password that can change out from under a
// long-lived ConnectionManager without tearing down its live sessions —
// only newly minted sessions pick it up.
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func loadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("dbconfig: reading credentials file: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("dbconfig: parsing credentials file: %w", err)
	}
	return c, nil
}

// CredentialsWatcher watches a credentials file for changes and invokes a
// callback with the freshly loaded value, debounced against editors that
// write a file in several small writes.
type CredentialsWatcher struct {
	path     string
	callback func(Credentials)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// WatchCredentials starts watching path and returns the watcher. The
// callback is not invoked for the initial state — callers should load
// once with loadCredentials-equivalent logic (NewOptions) before watching.
func WatchCredentials(path string, callback func(Credentials)) (*CredentialsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dbconfig: creating credentials watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("dbconfig: watching credentials file: %w", err)
	}

	cw := &CredentialsWatcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *CredentialsWatcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("dbconfig: credentials watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *CredentialsWatcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	creds, err := loadCredentials(cw.path)
	if err != nil {
		log.Printf("dbconfig: credentials hot-reload failed: %v", err)
		return
	}
	cw.callback(creds)
}

// Stop stops the watcher and releases its underlying fsnotify handle.
func (cw *CredentialsWatcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
