package usage

import (
	"context"
	"time"

	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"go.uber.org/zap"
)

// Recorder persists proxied-request records. Logging is best effort:
// a failure to persist never fails the caller's request.
type Recorder interface {
	Log(rec *model.APIRequest)
}

// Ingestor is a Recorder with a background flush loop.
type Ingestor interface {
	Recorder
	Start(ctx context.Context)
	Stop()
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	logChan   chan *model.APIRequest
	batchSize int
	flushTime time.Duration
}

// NewIngestor returns the asynchronous recorder used in production:
// records are buffered on a channel and flushed in batches.
func NewIngestor(logger *zap.Logger, repo store.Repository) Ingestor {
	return &ingestor{
		logger:    logger,
		repo:      repo,
		logChan:   make(chan *model.APIRequest, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
	}
}

func (i *ingestor) Log(rec *model.APIRequest) {
	select {
	case i.logChan <- rec:
	default:
		i.logger.Warn("Usage buffer full, dropping record", zap.String("request_id", rec.ID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

func (i *ingestor) Stop() {
	close(i.logChan)
}

func (i *ingestor) worker(ctx context.Context) {
	batch := make([]*model.APIRequest, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		for _, rec := range batch {
			if err := i.repo.Requests().Log(context.Background(), rec); err != nil {
				i.logger.Error("Failed to persist request record",
					zap.String("id", rec.ID), zap.Error(err))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-i.logChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// SyncRecorder writes records inline. Used by tests and the seed tool
// where flushing order matters.
type SyncRecorder struct {
	logger *zap.Logger
	repo   store.Repository
}

func NewSyncRecorder(logger *zap.Logger, repo store.Repository) *SyncRecorder {
	return &SyncRecorder{logger: logger, repo: repo}
}

func (r *SyncRecorder) Log(rec *model.APIRequest) {
	if err := r.repo.Requests().Log(context.Background(), rec); err != nil {
		r.logger.Error("Failed to persist request record",
			zap.String("id", rec.ID), zap.Error(err))
	}
}
