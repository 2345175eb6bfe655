// Package payload resolves resume sources into uploadable artifacts.
//
// A source is a local file, a local directory (read non-recursively) or an
// s3://bucket/prefix URL. Only PDF documents are accepted; everything else
// is reported as rejected so the caller can tell the user.
package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pithecene-io/shortlist/remote"
)

// PDFContentType is the MIME type sent for every artifact.
const PDFContentType = "application/pdf"

// User-facing messages.
const (
	MsgUnsupportedType = "Only PDF resumes are supported."
	MsgEmptySelection  = "Please select at least one PDF resume."
)

var (
	// ErrUnsupportedType is returned for a non-PDF document.
	ErrUnsupportedType = errors.New("payload: unsupported document type")
	// ErrEmptySelection is returned when no PDF documents were selected.
	ErrEmptySelection = errors.New("payload: no PDF documents selected")
)

// IsPDF reports whether name has a .pdf extension (case-insensitive).
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// Check returns ErrUnsupportedType unless name is a PDF.
func Check(name string) error {
	if !IsPDF(name) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, name)
	}
	return nil
}

// File is a PDF on the local filesystem.
type File struct {
	path string
	size int64
}

// NewFile returns an artifact for the PDF at path.
func NewFile(path string) (*File, error) {
	if err := Check(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{path: path, size: info.Size()}, nil
}

// Name returns the base file name.
func (f *File) Name() string { return filepath.Base(f.path) }

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Size returns the file size in bytes.
func (f *File) Size() int64 { return f.size }

// ContentType implements remote.Artifact.
func (f *File) ContentType() string { return PDFContentType }

// Open implements remote.Artifact.
func (f *File) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

// Selection is the result of resolving sources.
type Selection struct {
	// Artifacts are the accepted PDFs in source order.
	Artifacts []remote.Artifact
	// Rejected lists the names of documents that are not PDFs.
	Rejected []string
}

// Warning returns the user message for rejected documents, or "".
func (s Selection) Warning() string {
	if len(s.Rejected) == 0 {
		return ""
	}
	return MsgUnsupportedType
}

// Names returns the accepted artifact names.
func (s Selection) Names() []string {
	out := make([]string, len(s.Artifacts))
	for i, a := range s.Artifacts {
		out[i] = a.Name()
	}
	return out
}

// Resolver expands sources into a Selection.
type Resolver struct {
	objects ObjectStore
}

// NewResolver creates a resolver. objects may be nil, in which case s3://
// sources fail to resolve.
func NewResolver(objects ObjectStore) *Resolver {
	return &Resolver{objects: objects}
}

// Resolve expands every source. Duplicates are dropped. When nothing is
// accepted the selection is returned together with ErrEmptySelection, or
// ErrUnsupportedType if documents were offered but none was a PDF.
func (r *Resolver) Resolve(ctx context.Context, sources []string) (Selection, error) {
	var sel Selection
	seen := make(map[string]struct{})

	add := func(key string, a remote.Artifact) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		sel.Artifacts = append(sel.Artifacts, a)
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Selection{}, err
		}
		if IsS3URL(src) {
			if err := r.resolveS3(ctx, src, &sel, add); err != nil {
				return Selection{}, err
			}
			continue
		}
		if err := resolveLocal(src, &sel, add); err != nil {
			return Selection{}, err
		}
	}

	if len(sel.Artifacts) == 0 {
		if len(sel.Rejected) > 0 {
			return sel, fmt.Errorf("%w: %s", ErrUnsupportedType, strings.Join(sel.Rejected, ", "))
		}
		return sel, ErrEmptySelection
	}
	return sel, nil
}

func resolveLocal(src string, sel *Selection, add func(string, remote.Artifact)) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("resume source: %w", err)
	}

	if !info.IsDir() {
		return addLocal(src, info, sel, add)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("resume source %s: %w", src, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return fmt.Errorf("resume source %s: %w", src, err)
		}
		if err := addLocal(filepath.Join(src, e.Name()), fi, sel, add); err != nil {
			return err
		}
	}
	return nil
}

func addLocal(path string, info os.FileInfo, sel *Selection, add func(string, remote.Artifact)) error {
	if !IsPDF(path) {
		sel.Rejected = append(sel.Rejected, filepath.Base(path))
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	add("file://"+abs, &File{path: path, size: info.Size()})
	return nil
}
