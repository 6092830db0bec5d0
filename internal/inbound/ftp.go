package inbound

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/model"
)

// FTPConfig configures the FTP drop folder source.
type FTPConfig struct {
	Host     string        `yaml:"host" mapstructure:"host"`
	Path     string        `yaml:"path" mapstructure:"path"`
	User     string        `yaml:"user" mapstructure:"user"`
	Password string        `yaml:"password" mapstructure:"password"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// FTPSource polls a remote FTP drop folder for .eml files. Each poll opens
// a fresh connection; Ack deletes the remote file.
type FTPSource struct {
	cfg FTPConfig
	log *zap.Logger
}

// NewFTP creates an FTP source for the configured drop folder.
func NewFTP(cfg FTPConfig) *FTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous@"
	}
	if _, _, err := net.SplitHostPort(cfg.Host); err != nil {
		cfg.Host = net.JoinHostPort(cfg.Host, "21")
	}
	return &FTPSource{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "inbound.ftp")),
	}
}

func (s *FTPSource) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.cfg.Host, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "inbound: ftp dial")
	}
	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "inbound: ftp login")
	}
	return conn, nil
}

func (s *FTPSource) Poll(ctx context.Context) ([]model.DocumentEvent, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	entries, err := conn.List(s.cfg.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "inbound: ftp list %s", s.cfg.Path)
	}

	var events []model.DocumentEvent
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return events, eris.Wrap(err, "inbound: poll cancelled")
		}
		if entry.Type != ftp.EntryTypeFile || !strings.HasSuffix(strings.ToLower(entry.Name), ".eml") {
			continue
		}

		data, err := s.retrieve(conn, entry.Name)
		if err != nil {
			s.log.Warn("unreadable remote file skipped",
				zap.String("file", entry.Name), zap.Error(err))
			continue
		}

		parsed, err := parseEML(data)
		if err != nil {
			s.log.Warn("unparseable inbound message skipped",
				zap.String("file", entry.Name), zap.Error(err))
			continue
		}

		events = append(events, model.DocumentEvent{
			EventID:    entry.Name,
			Sender:     parsed.Sender,
			Filename:   parsed.Filename,
			Attachment: parsed.Attachment,
			ReceivedAt: time.Now().UTC(),
		})
	}
	return events, nil
}

func (s *FTPSource) retrieve(conn *ftp.ServerConn, name string) ([]byte, error) {
	resp, err := conn.Retr(s.remotePath(name))
	if err != nil {
		return nil, eris.Wrap(err, "inbound: ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck
	return io.ReadAll(resp)
}

// Ack deletes the consumed file from the drop folder.
func (s *FTPSource) Ack(ctx context.Context, eventID string) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Delete(s.remotePath(eventID)); err != nil {
		return eris.Wrapf(err, "inbound: ack %s", eventID)
	}
	return nil
}

func (s *FTPSource) remotePath(name string) string {
	if s.cfg.Path == "" {
		return name
	}
	return strings.TrimSuffix(s.cfg.Path, "/") + "/" + name
}
