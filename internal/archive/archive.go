// Package archive moves the conversation collection in and out of the
// process as a portable JSON document.
package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/logger"
)

// maxImportSize bounds how much of an import document is read.
const maxImportSize = 32 << 20

// FormatError rejects an import document. Nothing is imported when it is returned.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return "import: " + e.Err.Error() }

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) UserMessage() string {
	return "Failed to import conversations. Please check the file format."
}

// Gateway exports from and imports into a history.Repository.
type Gateway struct {
	repo *history.Repository
	now  func() time.Time
}

func New(repo *history.Repository) *Gateway {
	return &Gateway{repo: repo, now: time.Now}
}

// Filename is the suggested name for an export taken at now.
func Filename(now time.Time) string {
	return fmt.Sprintf("business-advisor-export-%s.json", now.Format(time.DateOnly))
}

// ExportBytes renders the whole collection as an indented JSON array.
func (g *Gateway) ExportBytes() ([]byte, error) {
	data, err := history.EncodeIndent(g.repo.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// Export writes ExportBytes to w.
func (g *Gateway) Export(w io.Writer) error {
	data, err := g.ExportBytes()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Import validates the whole document before touching the repository, then
// prepends its records. It returns how many conversations were imported and,
// alongside a non-zero count, any persistence warning.
func (g *Gateway) Import(ctx context.Context, r io.Reader) (int, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return 0, &FormatError{Err: err}
	}
	if len(data) > maxImportSize {
		return 0, &FormatError{Err: fmt.Errorf("document larger than %d bytes", maxImportSize)}
	}

	convs, err := history.Decode(data, g.now())
	if err != nil {
		logger.FromContext(ctx).Warn("import rejected", "error", err)
		return 0, &FormatError{Err: err}
	}

	renamed, err := g.repo.Prepend(ctx, convs)
	logger.FromContext(ctx).Info("conversations imported", "count", len(convs), "reassigned_ids", renamed)
	return len(convs), err
}
