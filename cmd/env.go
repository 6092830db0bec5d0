package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/archive"
	"github.com/meridian-benefits/claimflow/internal/extract"
	"github.com/meridian-benefits/claimflow/internal/inbound"
	"github.com/meridian-benefits/claimflow/internal/ledger"
	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/pipeline"
	"github.com/meridian-benefits/claimflow/internal/policy"
	"github.com/meridian-benefits/claimflow/internal/store"
	"github.com/meridian-benefits/claimflow/internal/submit"
	anthropicpkg "github.com/meridian-benefits/claimflow/pkg/anthropic"
	"github.com/meridian-benefits/claimflow/pkg/claimsapi"
	"github.com/meridian-benefits/claimflow/pkg/ledgersink"
	"github.com/meridian-benefits/claimflow/pkg/notion"
	"github.com/meridian-benefits/claimflow/pkg/objstore"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "claimflow.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initBackend() (claimsapi.Client, error) {
	switch cfg.Claims.Backend {
	case "http":
		return claimsapi.NewHTTPClient(cfg.Claims.BaseURL, cfg.Claims.APIKey), nil
	case "salesforce":
		pemData, err := os.ReadFile(cfg.Claims.SFKeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "read salesforce JWT private key")
		}
		sf, err := salesforce.Init(salesforce.Creds{
			Domain:         cfg.Claims.SFLoginURL,
			Username:       cfg.Claims.SFUsername,
			ConsumerKey:    cfg.Claims.SFClientID,
			ConsumerRSAPem: string(pemData),
		})
		if err != nil {
			return nil, eris.Wrap(err, "init salesforce")
		}
		return claimsapi.NewSalesforceClient(sf), nil
	default:
		return nil, eris.Errorf("unsupported claims backend: %s", cfg.Claims.Backend)
	}
}

func initSource() (inbound.Source, error) {
	switch cfg.Inbound.Mode {
	case "dir":
		return inbound.NewDir(cfg.Inbound.Dir)
	case "ftp":
		return inbound.NewFTP(inbound.FTPConfig{
			Host:     cfg.Inbound.FTPHost,
			Path:     cfg.Inbound.FTPPath,
			User:     cfg.Inbound.FTPUser,
			Password: cfg.Inbound.FTPPassword,
		}), nil
	default:
		return nil, eris.Errorf("unsupported inbound mode: %s", cfg.Inbound.Mode)
	}
}

// boardNotifier adapts the Notion review board to the pipeline's
// notifier interface.
type boardNotifier struct {
	board *notion.Board
}

func (b boardNotifier) CreateException(ctx context.Context, jobID string, job *model.ClaimJob) error {
	card := notion.ExceptionCard{
		JobID:  jobID,
		Sender: job.Sender,
		Reason: job.FailureReason,
	}
	if job.Claim != nil {
		card.InvoiceNumber = job.Claim.InvoiceNumber
		card.Amount = job.Claim.ClaimAmount.String()
		card.Confidence = job.Claim.Confidence
	}
	_, err := b.board.CreateException(ctx, card)
	return err
}

func (b boardNotifier) ResolveException(ctx context.Context, jobID string) error {
	return b.board.Resolve(ctx, jobID)
}

// env bundles the wired processing components shared by the commands.
type env struct {
	Store    store.Store
	Ledger   *ledger.Writer
	Runner   *pipeline.Runner
	Archiver *archive.Archiver
	Policy   *policy.Policy
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initEnv wires the store, ledger, extraction engine, submission
// orchestrator, and optional archive and review-board integrations.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	pol, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		st.Close()
		return nil, err
	}

	sink := ledgersink.NewXLSX(cfg.Ledger.WorkbookPath)
	lw := ledger.NewWriter(sink, st, ledger.Config{
		ReplayInterval: time.Duration(cfg.Ledger.ReplayIntervalSecs) * time.Second,
		ReplayBatch:    cfg.Ledger.ReplayBatch,
	})

	backend, err := initBackend()
	if err != nil {
		st.Close()
		return nil, err
	}
	orchestrator := submit.New(backend, submit.NewBreaker(submit.BreakerConfig{}), pol.SubmitConfig())

	engine := extract.NewEngine(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		extract.WithModel(cfg.Anthropic.Model),
	)

	opts := []pipeline.RunnerOpt{pipeline.WithBands(pol.Bands())}

	e := &env{Store: st, Ledger: lw, Policy: pol}

	if cfg.Archive.Enabled {
		objects, err := objstore.NewMinio(ctx,
			objstore.WithEndpoint(cfg.Archive.Endpoint),
			objstore.WithBucket(cfg.Archive.Bucket),
			objstore.WithCredentials(cfg.Archive.AccessKey, cfg.Archive.SecretKey),
			objstore.WithSSL(cfg.Archive.UseSSL),
		)
		if err != nil {
			zap.L().Warn("archive store unavailable, continuing without archival", zap.Error(err))
		} else {
			e.Archiver = archive.New(objects, st, archive.Config{})
			opts = append(opts, pipeline.WithArchiver(e.Archiver))
		}
	}

	if cfg.Notion.Token != "" {
		board := notion.NewBoard(notion.NewClient(cfg.Notion.Token), cfg.Notion.ExceptionDB)
		opts = append(opts, pipeline.WithNotifier(boardNotifier{board: board}))
	}

	e.Runner = pipeline.NewRunner(st, lw, engine, orchestrator, opts...)
	return e, nil
}
