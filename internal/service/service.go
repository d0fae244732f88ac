// Package service runs one harvest: fetch, validate, index, gate, merge, name and upload.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/julienvalera/velib-harvester/internal/client"
	"github.com/julienvalera/velib-harvester/internal/gate"
	"github.com/julienvalera/velib-harvester/internal/lifecycle"
	"github.com/julienvalera/velib-harvester/internal/merge"
	"github.com/julienvalera/velib-harvester/internal/observability"
	"github.com/julienvalera/velib-harvester/internal/schema"
	"github.com/julienvalera/velib-harvester/internal/snapshot"
	"github.com/julienvalera/velib-harvester/internal/storage"
	"github.com/julienvalera/velib-harvester/internal/traffic"
)

var (
	// ErrRunInProgress is returned when Run is called while another run executes.
	ErrRunInProgress = errors.New("harvest run already in progress")
	// ErrShuttingDown is returned when Run is called after shutdown started.
	ErrShuttingDown = errors.New("service shutting down")
)

// Stage names, also used as the stage metric label.
const (
	StageFetchInformation    = "fetch_information"
	StageValidateInformation = "validate_information"
	StageIndex               = "index"
	StageGate                = "gate"
	StageFetchStatus         = "fetch_status"
	StageValidateStatus      = "validate_status"
	StageMerge               = "merge"
	StageEncode              = "encode"
	StageUpload              = "upload"
)

// RunResult summarizes one run. Stage is the last stage reached, so on failure it names
// the stage that failed.
type RunResult struct {
	RunID                string
	Outcome              traffic.Outcome
	Stage                string
	GateState            string
	InformationTimestamp int64
	StatusTimestamp      int64
	PreviousWatermark    int64
	Watermark            int64
	SnapshotKey          string
	SnapshotBytes        int
	Stations             int
	JoinMisses           int
	Duplicates           int
	StartedAt            time.Time
	Duration             time.Duration
	Error                string
}

// Options holds the collaborators of a HarvestService. Client, Validator, Gate, Writer
// and Logger are required.
type Options struct {
	Client    client.FeedClient
	Validator *schema.Validator
	Gate      *gate.Gate
	Writer    storage.Writer
	Logger    *zap.Logger

	// Location interprets snapshot timestamps for the storage key (default time.Local).
	Location *time.Location
	// Suffix ends every snapshot key (default snapshot.DefaultSuffix).
	Suffix string
	// RunTimeout bounds one run; zero leaves the caller's context as is.
	RunTimeout time.Duration
	// Tracker, when set, receives every run outcome.
	Tracker *traffic.Tracker
}

// HarvestService executes harvest runs one at a time.
type HarvestService struct {
	client     client.FeedClient
	validator  *schema.Validator
	gate       *gate.Gate
	writer     storage.Writer
	logger     *zap.Logger
	location   *time.Location
	suffix     string
	runTimeout time.Duration
	tracker    *traffic.Tracker

	running atomic.Bool

	mu      sync.RWMutex
	lastRun *RunResult
}

// NewHarvestService creates a HarvestService from opts.
func NewHarvestService(opts Options) (*HarvestService, error) {
	switch {
	case opts.Client == nil:
		return nil, errors.New("service: feed client is required")
	case opts.Validator == nil:
		return nil, errors.New("service: validator is required")
	case opts.Gate == nil:
		return nil, errors.New("service: gate is required")
	case opts.Writer == nil:
		return nil, errors.New("service: storage writer is required")
	case opts.Logger == nil:
		return nil, errors.New("service: logger is required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Suffix == "" {
		opts.Suffix = snapshot.DefaultSuffix
	}
	return &HarvestService{
		client:     opts.Client,
		validator:  opts.Validator,
		gate:       opts.Gate,
		writer:     opts.Writer,
		logger:     opts.Logger,
		location:   opts.Location,
		suffix:     opts.Suffix,
		runTimeout: opts.RunTimeout,
		tracker:    opts.Tracker,
	}, nil
}

// Running reports whether a run is executing.
func (s *HarvestService) Running() bool {
	return s.running.Load()
}

// LastRun returns the most recent finished run, if any.
func (s *HarvestService) LastRun() (RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return RunResult{}, false
	}
	return *s.lastRun, true
}

// Run executes one harvest. Fetch and validation failures of the information stage return
// before the watermark is touched; failures after the gate leave the new watermark in place.
// A run rejected with ErrRunInProgress or ErrShuttingDown is not recorded.
func (s *HarvestService) Run(ctx context.Context) (RunResult, error) {
	if lifecycle.IsShuttingDown() {
		return RunResult{}, ErrShuttingDown
	}
	if !s.running.CompareAndSwap(false, true) {
		return RunResult{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	defer lifecycle.BeginRun()()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	res := RunResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	ctx = observability.WithCorrelationID(ctx, res.RunID)
	logger := s.logger.With(zap.String("run_id", res.RunID))
	logger.Debug("harvest run started")

	err := s.execute(ctx, logger, &res)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Outcome = traffic.OutcomeFailed
		res.Error = err.Error()
	}

	observability.HarvestRunsTotal.WithLabelValues(string(res.Outcome)).Inc()
	observability.HarvestRunDuration.Observe(res.Duration.Seconds())
	if s.tracker != nil {
		s.tracker.Record(res.Outcome)
	}
	s.mu.Lock()
	last := res
	s.lastRun = &last
	s.mu.Unlock()

	logger.Info("harvest run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.String("stage", res.Stage),
		zap.Int64("information_timestamp", res.InformationTimestamp),
		zap.Int64("watermark", res.Watermark),
		zap.String("snapshot_key", res.SnapshotKey),
		zap.Int("stations", res.Stations),
		zap.Int("join_misses", res.JoinMisses),
		zap.Duration("duration", res.Duration))
	return res, err
}

func (s *HarvestService) execute(ctx context.Context, logger *zap.Logger, res *RunResult) error {
	res.Stage = StageFetchInformation
	start := time.Now()
	rawInfo, err := s.client.FetchStationInformation(ctx)
	observeStage(StageFetchInformation, start)
	if err != nil {
		logFetchError(logger, err)
		return err
	}

	res.Stage = StageValidateInformation
	start = time.Now()
	info, err := s.validator.StationInformation(rawInfo)
	observeStage(StageValidateInformation, start)
	if err != nil {
		logSchemaError(logger, err)
		return err
	}
	res.InformationTimestamp = info.LastUpdatedOther

	res.Stage = StageIndex
	start = time.Now()
	index, duplicates := merge.BuildIndex(info.Data.Stations)
	observeStage(StageIndex, start)
	res.Duplicates = len(duplicates)
	for _, d := range duplicates {
		observability.IndexDuplicatesTotal.Inc()
		logger.Warn("duplicate station_id in information",
			zap.Int64("station_id", d.StationID),
			zap.Int("kept_position", d.Kept),
			zap.Int("dropped_position", d.Dropped))
	}

	res.Stage = StageGate
	start = time.Now()
	decision, err := s.gate.Check(ctx, info.LastUpdatedOther)
	observeStage(StageGate, start)
	res.GateState = decision.State.String()
	res.PreviousWatermark = decision.Previous
	if err != nil {
		logger.Error("watermark check failed", zap.Error(err))
		return err
	}
	res.Watermark = decision.Written
	observability.GateDecisionsTotal.WithLabelValues(decision.State.String()).Inc()
	observability.WatermarkTimestamp.Set(float64(decision.Written))
	if decision.Corrupt != nil {
		logger.Warn("watermark unreadable; reinitialized", zap.Error(decision.Corrupt))
	}
	if decision.Initialized {
		logger.Info("watermark initialized", zap.Int64("watermark", 0))
	}
	if decision.Written < decision.Previous {
		logger.Warn("watermark lowered",
			zap.Int64("previous", decision.Previous),
			zap.Int64("current", decision.Current))
	}
	if !decision.Proceed {
		res.Outcome = traffic.OutcomeSkipped
		logger.Info("gate: upstream not advanced",
			zap.Int64("watermark", decision.Previous),
			zap.Int64("information_timestamp", decision.Current))
		return nil
	}

	res.Stage = StageFetchStatus
	start = time.Now()
	rawStatus, err := s.client.FetchStationStatus(ctx)
	observeStage(StageFetchStatus, start)
	if err != nil {
		logFetchError(logger, err)
		return err
	}

	res.Stage = StageValidateStatus
	start = time.Now()
	status, err := s.validator.StationStatus(rawStatus)
	observeStage(StageValidateStatus, start)
	if err != nil {
		logSchemaError(logger, err)
		return err
	}
	res.StatusTimestamp = status.LastUpdatedOther

	res.Stage = StageMerge
	start = time.Now()
	merged, report := merge.Merge(index, status)
	observeStage(StageMerge, start)
	res.Stations = len(merged.Data.Stations)
	res.JoinMisses = len(report.JoinMisses)
	observability.JoinMissesTotal.Add(float64(len(report.JoinMisses)))
	for _, miss := range report.JoinMisses {
		fields := []zap.Field{zap.String("station_code", miss.StationCode), zap.Int("position", miss.Position)}
		if miss.StationID != nil {
			fields = append(fields, zap.Int64("station_id", *miss.StationID))
		}
		logger.Warn("station missing from information index", fields...)
	}
	for _, m := range report.CodeMismatches {
		logger.Debug("station_code differs between feeds",
			zap.Int64("station_id", m.StationID),
			zap.String("status_code", m.StatusCode),
			zap.String("information_code", m.InformationCode))
	}

	res.Stage = StageEncode
	start = time.Now()
	body, err := snapshot.Encode(merged)
	if err != nil {
		logger.Error("snapshot encode failed", zap.Error(err))
		return err
	}
	key := snapshot.Key(merged.LastUpdatedOther, s.location, s.suffix)
	observeStage(StageEncode, start)
	res.SnapshotKey = key
	res.SnapshotBytes = len(body)

	res.Stage = StageUpload
	start = time.Now()
	err = s.writer.Put(ctx, key, body)
	observeStage(StageUpload, start)
	if err != nil {
		observability.SnapshotUploadsTotal.WithLabelValues(s.writer.Backend(), "error").Inc()
		logger.Error("snapshot upload failed",
			zap.String("backend", s.writer.Backend()),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	observability.SnapshotUploadsTotal.WithLabelValues(s.writer.Backend(), "success").Inc()
	observability.SnapshotBytes.Set(float64(len(body)))
	res.Outcome = traffic.OutcomeUploaded
	return nil
}

func observeStage(stage string, start time.Time) {
	observability.HarvestStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func logFetchError(logger *zap.Logger, err error) {
	fields := []zap.Field{
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err),
	}
	var fe *client.FetchError
	if errors.As(err, &fe) {
		fields = append(fields,
			zap.String("feed", string(fe.Feed)),
			zap.Int("status_code", fe.StatusCode),
			zap.Int("attempts", fe.Attempts))
	}
	logger.Error("fetch failed", fields...)
}

// firstViolations bounds the violations attached to the log entry.
const firstViolations = 5

func logSchemaError(logger *zap.Logger, err error) {
	var se *schema.SchemaError
	if !errors.As(err, &se) {
		logger.Error("schema validation failed", zap.Error(err))
		return
	}
	for kind, n := range se.CountByKind() {
		observability.SchemaViolationsTotal.WithLabelValues(se.Schema, string(kind)).Add(float64(n))
	}
	listed := make([]string, 0, firstViolations)
	for i, v := range se.Violations {
		if i == firstViolations {
			break
		}
		listed = append(listed, v.String())
	}
	logger.Error("schema validation failed",
		zap.String("schema", se.Schema),
		zap.Int("violations", len(se.Violations)),
		zap.Strings("first_violations", listed))
}
