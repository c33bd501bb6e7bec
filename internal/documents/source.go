package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"

	"ragqa/internal/domain"
	"ragqa/internal/logging"
)

// DefaultPatterns selects plain text, markdown and PDF files at any depth.
var DefaultPatterns = []string{"**/*.txt", "**/*.md", "**/*.pdf"}

// DirSource loads every file under Dir whose slash-separated relative path
// matches one of Patterns. The relative path becomes the document ID and
// the source label attached to its chunks. Files whose text cannot be
// extracted are skipped and reported to Log.
type DirSource struct {
	Dir      string
	Patterns []string
	Log      logrus.FieldLogger
}

// NewDirSource returns a source over dir; empty patterns select DefaultPatterns.
func NewDirSource(dir string, patterns []string) *DirSource {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &DirSource{Dir: dir, Patterns: patterns}
}

// Load reads all matching documents sorted by path.
func (s *DirSource) Load(ctx context.Context) ([]domain.Document, error) {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("document source %s: %w", s.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document source %s: not a directory", s.Dir)
	}
	for _, p := range s.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: invalid document pattern %q", domain.ErrConfiguration, p)
		}
	}

	var docs []domain.Document
	fsys := os.DirFS(s.Dir)
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !s.Matches(p) {
			return nil
		}
		content, err := readText(fsys, p)
		if err != nil {
			s.logger().WithError(err).WithField("file", p).Warn("documents.skipped")
			return nil
		}
		docs = append(docs, domain.Document{
			ID:      p,
			Path:    filepath.Join(s.Dir, filepath.FromSlash(p)),
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Matches reports whether a slash-separated path relative to Dir is selected.
func (s *DirSource) Matches(rel string) bool {
	for _, p := range s.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (s *DirSource) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logging.Discard()
	}
	return s.Log
}

func readText(fsys fs.FS, p string) (string, error) {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(path.Ext(p), ".pdf") {
		return pdfText(data)
	}
	return string(data), nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var b bytes.Buffer
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "", errors.New("pdf contains no extractable text")
	}
	return b.String(), nil
}

var _ domain.DocumentSource = (*DirSource)(nil)
