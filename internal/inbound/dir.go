package inbound

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/model"
)

const processedDirName = ".processed"

// DirSource polls a local drop directory for .eml files. Acked files move
// into a .processed subdirectory so a crash between poll and ack leaves
// the document in place for the next pass.
type DirSource struct {
	dir string
	log *zap.Logger
}

// NewDir creates a directory source rooted at dir.
func NewDir(dir string) (*DirSource, error) {
	if err := os.MkdirAll(filepath.Join(dir, processedDirName), 0o755); err != nil {
		return nil, eris.Wrapf(err, "inbound: prepare drop dir %s", dir)
	}
	return &DirSource{
		dir: dir,
		log: zap.L().With(zap.String("component", "inbound.dir")),
	}, nil
}

func (s *DirSource) Poll(ctx context.Context) ([]model.DocumentEvent, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "inbound: read drop dir %s", s.dir)
	}

	var events []model.DocumentEvent
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return events, eris.Wrap(err, "inbound: poll cancelled")
		}
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".eml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.log.Warn("unreadable inbound file skipped",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		parsed, err := parseEML(data)
		if err != nil {
			s.log.Warn("unparseable inbound message skipped",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		events = append(events, model.DocumentEvent{
			EventID:    entry.Name(),
			Sender:     parsed.Sender,
			Filename:   parsed.Filename,
			Attachment: parsed.Attachment,
			ReceivedAt: time.Now().UTC(),
		})
	}
	return events, nil
}

// Ack moves the consumed file out of the drop directory.
func (s *DirSource) Ack(_ context.Context, eventID string) error {
	src := filepath.Join(s.dir, eventID)
	dst := filepath.Join(s.dir, processedDirName, eventID)
	if err := os.Rename(src, dst); err != nil {
		return eris.Wrapf(err, "inbound: ack %s", eventID)
	}
	return nil
}
