package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "liqflow/config"
	"liqflow/internal/metadata"
	metrics "liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"
)

const batchKeySeparator = "|"

// ObjectSink is the cold-tier backend: one durable put per parquet object.
type ObjectSink interface {
	Put(ctx context.Context, key string, data []byte) error
}

type s3Sink struct {
	client *s3.Client
	bucket string
}

// NewS3Sink builds the S3 backend from config.
func NewS3Sink(cfg *appconfig.Config) (ObjectSink, error) {
	bucket := strings.TrimSpace(cfg.Storage.S3.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	return &s3Sink{client: client, bucket: bucket}, nil
}

func (s *s3Sink) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

type liquidationMemFile struct {
	buffer *bytes.Buffer
}

func newLiquidationMemFile() *liquidationMemFile {
	return &liquidationMemFile{buffer: &bytes.Buffer{}}
}

func (m *liquidationMemFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *liquidationMemFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *liquidationMemFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *liquidationMemFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *liquidationMemFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *liquidationMemFile) Close() error                              { return nil }
func (m *liquidationMemFile) Bytes() []byte                             { return m.buffer.Bytes() }

// liquidationRecord defines the parquet schema for durable liquidation rows.
type liquidationRecord struct {
	Exchange      string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side          string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price         float64 `parquet:"name=price, type=DOUBLE"`
	Quantity      float64 `parquet:"name=quantity, type=DOUBLE"`
	ValueUSD      float64 `parquet:"name=value_usd, type=DOUBLE"`
	EventTime     int64   `parquet:"name=event_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ReceiveTimeNs int64   `parquet:"name=receive_time_ns, type=INT64"`
	LocalSeq      int64   `parquet:"name=local_seq, type=INT64"`
	DedupKey      string  `parquet:"name=dedup_key, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// AsyncWriter is the cold tier. Events are queued without blocking the hot
// path, grouped per (exchange, symbol), and flushed as snappy parquet objects
// to the sink once a group reaches BatchSize or its flush interval elapses.
type AsyncWriter struct {
	cfg    *appconfig.Config
	sink   ObjectSink
	log    *logger.Log
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	mu     sync.Mutex

	queue     chan models.LiquidationEvent
	buffer    map[string][]models.LiquidationEvent
	lastFlush map[string]time.Time
	catalog   *metadata.Generator
	running   bool

	batchesWritten atomic.Int64
	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64
}

// NewAsyncWriter builds the cold-tier writer around the given sink.
func NewAsyncWriter(cfg *appconfig.Config, sink ObjectSink) *AsyncWriter {
	capacity := cfg.Storage.Writer.QueueCapacity
	if capacity <= 0 {
		capacity = 64
	}
	w := &AsyncWriter{
		cfg:       cfg,
		sink:      sink,
		log:       logger.GetLogger(),
		wg:        &sync.WaitGroup{},
		queue:     make(chan models.LiquidationEvent, capacity),
		buffer:    make(map[string][]models.LiquidationEvent),
		lastFlush: make(map[string]time.Time),
	}
	if ice := cfg.Storage.Iceberg; ice.Enabled {
		w.catalog = metadata.NewGenerator(ice.Path, ice.TableName)
	}
	return w
}

// Start launches the drain and flush workers.
func (w *AsyncWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("async writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.log.WithComponent("liq_writer").WithFields(logger.Fields{
		"batch_size":     w.batchSize(),
		"flush_interval": w.flushInterval().String(),
		"queue_cap":      cap(w.queue),
	}).Info("starting async liquidation writer")

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushWorker()

	return nil
}

// Stop drains workers and performs one bounded final flush.
func (w *AsyncWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.drainQueue()

	timeout := w.cfg.Storage.Writer.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), timeout)
	defer flushCancel()
	w.flushAll(flushCtx, "stop")

	if w.catalog != nil && w.cfg.Storage.Iceberg.CatalogDir != "" {
		if err := w.catalog.WriteCatalogEntry(w.cfg.Storage.Iceberg.CatalogDir); err != nil {
			w.log.WithComponent("liq_writer").WithError(err).Warn("failed to write iceberg catalog entry")
		}
	}

	w.log.WithComponent("liq_writer").Info("async liquidation writer stopped")
}

// Enqueue hands an event to the cold tier without blocking. When the queue is
// full the oldest queued event is discarded first.
func (w *AsyncWriter) Enqueue(event models.LiquidationEvent) {
	select {
	case w.queue <- event:
		return
	default:
	}

	select {
	case old := <-w.queue:
		metrics.EmitDropMetric(w.log, metrics.DropMetricWriterQueue, string(old.Exchange), old.Symbol, "writer_queue")
	default:
	}
	select {
	case w.queue <- event:
	default:
		metrics.EmitDropMetric(w.log, metrics.DropMetricWriterQueue, string(event.Exchange), event.Symbol, "writer_queue")
	}
}

// Stats reports writer counters for the periodic metrics report.
func (w *AsyncWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: w.batchesWritten.Load(),
		FilesWritten:   w.filesWritten.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		ErrorsCount:    w.errorsCount.Load(),
		QueueLen:       len(w.queue),
		QueueCap:       cap(w.queue),
	}
}

func (w *AsyncWriter) batchSize() int {
	if n := w.cfg.Storage.Writer.BatchSize; n > 0 {
		return n
	}
	return 500
}

func (w *AsyncWriter) flushInterval() time.Duration {
	if d := w.cfg.Storage.Writer.FlushInterval; d > 0 {
		return d
	}
	return time.Minute
}

func (w *AsyncWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event := <-w.queue:
			w.addEvent(event)
		}
	}
}

func (w *AsyncWriter) flushWorker() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushTimedOut()
		}
	}
}

func (w *AsyncWriter) drainQueue() {
	for {
		select {
		case event := <-w.queue:
			w.addEvent(event)
		default:
			return
		}
	}
}

func (w *AsyncWriter) addEvent(event models.LiquidationEvent) {
	key := strings.Join([]string{
		strings.ToLower(string(event.Exchange)),
		strings.ToUpper(event.Symbol),
	}, batchKeySeparator)

	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], event)
	if _, ok := w.lastFlush[key]; !ok {
		w.lastFlush[key] = time.Now()
	}
	shouldFlush := len(w.buffer[key]) >= w.batchSize()
	w.mu.Unlock()

	if shouldFlush {
		w.flushKey(w.ctx, key)
	}
}

func (w *AsyncWriter) flushTimedOut() {
	now := time.Now()
	interval := w.flushInterval()

	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for key, entries := range w.buffer {
		if len(entries) == 0 {
			continue
		}
		if now.Sub(w.lastFlush[key]) >= interval {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.flushKey(w.ctx, key)
	}
}

func (w *AsyncWriter) flushAll(ctx context.Context, reason string) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for key, entries := range w.buffer {
		if len(entries) > 0 {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	w.log.WithComponent("liq_writer").WithFields(logger.Fields{
		"flushed_buffers": len(keys),
		"reason":          reason,
	}).Info("flushing liquidation buffers")

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		w.flushKey(ctx, key)
	}
}

func (w *AsyncWriter) flushKey(ctx context.Context, key string) {
	w.mu.Lock()
	entries := w.buffer[key]
	if len(entries) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, key)
	delete(w.lastFlush, key)
	w.mu.Unlock()

	data, err := w.createParquet(entries)
	if err != nil {
		w.errorsCount.Add(1)
		w.log.WithComponent("liq_writer").WithError(err).Error("failed to create parquet for liquidation batch")
		return
	}

	objectKey, exchange, symbol, latest := w.objectKey(entries)
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.sink.Put(putCtx, objectKey, data); err != nil {
		w.errorsCount.Add(1)
		w.log.WithComponent("liq_writer").WithError(err).WithFields(logger.Fields{
			"s3_key": objectKey,
		}).Warn("failed to upload liquidation batch, dropping")
		return
	}

	if w.catalog != nil {
		df := metadata.LiquidationFile(objectKey, int64(len(data)), int64(len(entries)), exchange, symbol, latest)
		if err := w.catalog.AddFile(df); err != nil {
			w.log.WithComponent("liq_writer").WithError(err).Warn("failed to update iceberg metadata")
		}
	}

	w.batchesWritten.Add(1)
	w.filesWritten.Add(1)
	w.bytesWritten.Add(int64(len(data)))
	logger.IncrementS3Write(int64(len(data)))

	w.log.WithComponent("liq_writer").WithFields(logger.Fields{
		"s3_key":  objectKey,
		"records": len(entries),
		"bytes":   len(data),
	}).Info("liquidation batch uploaded")
}

func (w *AsyncWriter) createParquet(entries []models.LiquidationEvent) ([]byte, error) {
	mf := newLiquidationMemFile()
	pw, err := writer.NewParquetWriter(mf, new(liquidationRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		rec := liquidationRecord{
			Exchange:      strings.ToLower(string(entry.Exchange)),
			Symbol:        strings.ToUpper(entry.Symbol),
			Side:          string(entry.Side),
			Price:         entry.Price,
			Quantity:      entry.Quantity,
			ValueUSD:      entry.ValueUSD,
			EventTime:     entry.EventTimeMs,
			ReceiveTimeNs: entry.ReceiveTimeNs,
			LocalSeq:      int64(entry.LocalSeq),
			DedupKey:      entry.DedupKey,
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

func (w *AsyncWriter) objectKey(entries []models.LiquidationEvent) (string, string, string, time.Time) {
	exchange := strings.ToLower(string(entries[0].Exchange))
	symbol := strings.ToUpper(entries[0].Symbol)

	var latest time.Time
	for _, entry := range entries {
		if entry.EventTimeMs > 0 {
			ts := time.UnixMilli(entry.EventTimeMs)
			if ts.After(latest) {
				latest = ts
			}
		}
	}
	if latest.IsZero() {
		latest = time.Now()
	}
	latest = latest.UTC()

	parts := []string{
		fmt.Sprintf("exchange=%s", exchange),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%04d-%02d-%02d", latest.Year(), latest.Month(), latest.Day()),
	}
	filename := fmt.Sprintf("%s_liq_%s_%s_%s.parquet", exchange, symbol, latest.Format("20060102150405"), uuid.NewString())
	return filepath.ToSlash(filepath.Join(append(parts, filename)...)), exchange, symbol, latest
}
