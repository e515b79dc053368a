// Package library reads the document directory and reads/writes the JSON
// mappings that connect the summarization and image pipelines.
package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/thinkscotty/glimpse/internal/models"
)

var (
	ErrNoDirectory = errors.New("library directory not found")
	ErrEncoding    = errors.New("document is not valid UTF-8")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Entry is a document file discovered by Scan.
type Entry struct {
	Name string
	Path string
}

// Scan lists regular files in dir whose extension matches one of exts
// (case-insensitive). Results are sorted by name.
func Scan(dir string, exts []string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDirectory, dir)
		}
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	var entries []Entry
	for _, item := range items {
		if !item.Type().IsRegular() {
			continue
		}
		if !allowed[strings.ToLower(filepath.Ext(item.Name()))] {
			continue
		}
		entries = append(entries, Entry{
			Name: item.Name(),
			Path: filepath.Join(dir, item.Name()),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read loads an entry as a UTF-8 document.
func Read(e Entry) (models.Document, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return models.Document{}, fmt.Errorf("read %s: %w", e.Name, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return models.Document{}, fmt.Errorf("%w: %s", ErrEncoding, e.Name)
	}
	return models.Document{Name: e.Name, Path: e.Path, Text: string(data)}, nil
}

// Mapping is a persisted filename -> text lookup.
type Mapping map[string]string

// LoadMapping reads a JSON mapping. A missing file yields an empty mapping.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m := Mapping{}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// EncodeMapping renders m with sorted keys, four-space indentation and no
// HTML escaping, so equal mappings always encode to identical bytes.
func EncodeMapping(m Mapping) ([]byte, error) {
	if m == nil {
		m = Mapping{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveMapping writes m to path atomically (temp file + rename).
func SaveMapping(path string, m Mapping) error {
	data, err := EncodeMapping(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic replaces path with data via a temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// MappingPath returns where a category's mapping lives inside dir.
func MappingPath(dir string, cat models.Category) string {
	return filepath.Join(dir, cat.FileName())
}

// GeneratedImagePath returns the output path for a document's generated image.
func GeneratedImagePath(dir, name string) string {
	return filepath.Join(dir, name+"_generated.png")
}
