package mcpservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// DirResources exposes the files under one OS directory as resources. File
// creation, removal, and renames under the root surface as list_changed
// signals via fsnotify, so sessions with an open stream learn about new
// files without polling.
//
// Reads are constrained to the configured root; URIs attempting parent
// traversal are rejected.
type DirResources struct {
	root     string
	baseURI  string
	pageSize int
	log      *slog.Logger

	watchOnce sync.Once
	notifier  ChangeNotifier
}

var (
	_ ResourcesCapability = (*DirResources)(nil)
	_ ChangeSubscriber    = (*DirResources)(nil)
)

// DirOption configures DirResources.
type DirOption func(*DirResources)

// WithBaseURI sets the URI prefix for listed resources. Defaults to "fs://files".
func WithBaseURI(base string) DirOption {
	return func(d *DirResources) { d.baseURI = strings.TrimSuffix(base, "/") }
}

// WithDirLogger sets the logger used for watcher diagnostics.
func WithDirLogger(log *slog.Logger) DirOption {
	return func(d *DirResources) { d.log = log }
}

// NewDirResources builds a DirResources rooted at dir. The directory must
// exist.
func NewDirResources(dir string, opts ...DirOption) (*DirResources, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve resources root %q: %w", dir, err)
	}
	if fi, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("stat resources root %q: %w", dir, err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("resources root %q is not a directory", dir)
	}

	d := &DirResources{
		root:     abs,
		baseURI:  "fs://files",
		pageSize: defaultPageSize,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Watch starts the fsnotify watcher and runs until ctx ends. Watcher
// construction failure is returned; later watch errors are logged and the
// capability degrades to serving without change signals.
func (d *DirResources) Watch(ctx context.Context) error {
	var startErr error
	d.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("start resources watcher: %w", err)
			return
		}
		if err := w.Add(d.root); err != nil {
			_ = w.Close()
			startErr = fmt.Errorf("watch resources root %q: %w", d.root, err)
			return
		}
		go func() {
			defer w.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-w.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
						d.notifier.Notify(ctx)
					}
				case err, ok := <-w.Errors:
					if !ok {
						return
					}
					d.log.Debug("resources.watch.err", slog.String("err", err.Error()))
				}
			}
		}()
	})
	return startErr
}

// ListResources implements ResourcesCapability by walking the root.
func (d *DirResources) ListResources(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	var names []string
	err := fs.WalkDir(os.DirFS(d.root), ".", func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		names = append(names, p)
		return nil
	})
	if err != nil {
		return Page[mcp.Resource]{}, fmt.Errorf("list resources under %q: %w", d.root, err)
	}
	sort.Strings(names)

	resources := make([]mcp.Resource, 0, len(names))
	for _, name := range names {
		resources = append(resources, mcp.Resource{
			URI:      d.baseURI + "/" + path.Clean(name),
			Name:     path.Base(name),
			MimeType: mime.TypeByExtension(path.Ext(name)),
		})
	}

	start := parseCursor(cursor)
	if start >= len(resources) {
		return NewPage[mcp.Resource](nil), nil
	}
	end := min(start+d.pageSize, len(resources))
	if end < len(resources) {
		return NewPage(resources[start:end], WithNextCursor[mcp.Resource](strconv.Itoa(end))), nil
	}
	return NewPage(resources[start:end]), nil
}

// ListResourceTemplates implements ResourcesCapability. A directory exposes
// one template covering every path under the root.
func (d *DirResources) ListResourceTemplates(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	return NewPage([]mcp.ResourceTemplate{{
		URITemplate: d.baseURI + "/{path}",
		Name:        "file",
	}}), nil
}

// ReadResource implements ResourcesCapability.
func (d *DirResources) ReadResource(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	rel, ok := strings.CutPrefix(uri, d.baseURI+"/")
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}

	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}

	contents := mcp.ResourceContents{URI: uri, MimeType: mime.TypeByExtension(path.Ext(rel))}
	if utf8.Valid(data) {
		contents.Text = string(data)
	} else {
		contents.Blob = base64.StdEncoding.EncodeToString(data)
	}
	return []mcp.ResourceContents{contents}, nil
}

// Subscriber implements ChangeSubscriber.
func (d *DirResources) Subscriber() (<-chan struct{}, func()) {
	return d.notifier.Subscriber()
}
