package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/ingestion/manifest"
	"github.com/yungbote/docingest-backend/internal/ingestion/source"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

var tracer = otel.Tracer("github.com/yungbote/docingest-backend/internal/ingestion/pipeline")

var errListingCapped = errors.New("listing capped")

// SyncEngine mirrors a remote source into the content store and the state store.
type SyncEngine struct {
	log      *logger.Logger
	states   contentrepo.StateStore
	store    *contentstore.Store
	manifest *manifest.Manifest
	lister   source.Lister
	obs      Observer
}

func NewSyncEngine(log *logger.Logger, states contentrepo.StateStore, store *contentstore.Store, m *manifest.Manifest, lister source.Lister, obs Observer) *SyncEngine {
	return &SyncEngine{
		log:      log.With("component", "SyncEngine", "source", lister.Name()),
		states:   states,
		store:    store,
		manifest: m,
		lister:   lister,
		obs:      observerOrNop(obs),
	}
}

type syncRun struct {
	opts    Options
	report  *StageReport
	maxSeen time.Time
	since   time.Time
	pending int
}

func (e *SyncEngine) Run(ctx context.Context, opts Options) (*StageReport, error) {
	opts = opts.normalized()
	ctx, span := tracer.Start(ctx, "ingest.sync")
	defer span.End()

	run := &syncRun{opts: opts, report: newStageReport(types.StageSync, opts.DryRun)}
	defer func() {
		e.obs.ObserveStage(string(types.StageSync), run.report.status(), time.Since(run.report.StartedAt))
	}()

	if !opts.ForceFullSync {
		raw, ok, err := e.states.GetCheckpoint(dbctx.Of(ctx), types.CheckpointLastSync)
		if err != nil {
			return run.report.finish(), stateErr("get checkpoint", err)
		}
		if ok && raw != "" {
			ts, perr := time.Parse(time.RFC3339Nano, raw)
			if perr != nil {
				e.log.Warn("Ignoring unparseable checkpoint", "value", raw, "error", perr)
			} else {
				run.since = ts
			}
		}
	}
	e.log.Info("Sync started", "since", run.since, "dry_run", opts.DryRun, "max_files", opts.MaxFiles)

	capped := false
	err := e.lister.ListChangedSince(ctx, run.since, func(f source.RemoteFile) error {
		if opts.MaxFiles > 0 && run.report.Attempted+run.report.Renamed >= opts.MaxFiles {
			return errListingCapped
		}
		if err := e.syncOne(ctx, run, f); err != nil {
			return err
		}
		run.pending++
		if run.pending >= opts.ChunkSize && !opts.DryRun {
			run.pending = 0
			if err := e.manifest.Flush(ctx); err != nil {
				e.log.Warn("Manifest flush failed", "error", err)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errListingCapped):
		capped = true
	case errors.Is(err, ErrStateStore):
		span.RecordError(err)
		return run.report.finish(), err
	case err != nil:
		// The listing itself failed: files already handled stay handled, the checkpoint stays put.
		e.log.Error("Source listing failed", "error", err)
		run.report.recordFailure(types.ErrorSourceUnavailable)
		e.obs.ObserveFile(string(types.StageSync), "failed")
	}

	if !opts.DryRun {
		if ferr := e.manifest.Flush(ctx); ferr != nil {
			e.log.Warn("Manifest flush failed", "error", ferr)
		}
		if run.report.Failed == 0 && !capped && run.maxSeen.After(run.since) {
			if err := e.states.SetCheckpoint(dbctx.Of(ctx), types.CheckpointLastSync, run.maxSeen.UTC().Format(time.RFC3339Nano)); err != nil {
				return run.report.finish(), stateErr("set checkpoint", err)
			}
		}
	}

	rep := run.report.finish()
	span.SetAttributes(
		attribute.Int("ingest.listed", rep.Listed),
		attribute.Int("ingest.successful", rep.Successful),
		attribute.Int("ingest.failed", rep.Failed),
	)
	e.log.Info("Sync finished",
		"listed", rep.Listed,
		"successful", rep.Successful,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"deduplicated", rep.Deduplicated,
		"renamed", rep.Renamed,
		"capped", capped,
		"duration", rep.Duration.String(),
	)
	return rep, nil
}

func (e *SyncEngine) syncOne(ctx context.Context, run *syncRun, f source.RemoteFile) error {
	run.report.Listed++
	if f.ModifiedTime.After(run.maxSeen) {
		run.maxSeen = f.ModifiedTime
	}

	if entry, ok := e.manifest.Lookup(f.OriginID); ok && sameBytes(entry, f) {
		if entry.OriginName == f.OriginName && entry.OriginPath == f.OriginPath {
			if !entry.ModifiedTime.Equal(f.ModifiedTime) && !run.opts.DryRun {
				entry.ModifiedTime = f.ModifiedTime
				e.manifest.Record(f.OriginID, entry)
			}
			run.report.Skipped++
			e.obs.ObserveFile(string(types.StageSync), "skipped")
			return nil
		}
		return e.rename(ctx, run, f, entry)
	}

	run.report.Attempted++
	if run.opts.DryRun {
		e.log.Info("Would sync", "origin_id", f.OriginID, "path", f.OriginPath)
		return nil
	}

	data, hash, err := download(ctx, f)
	if err != nil {
		return e.failOrigin(ctx, run, f, err)
	}
	key, err := contentstore.RawKey(hash)
	if err != nil {
		return e.failOrigin(ctx, run, f, fail(types.ErrorStorageFailure, "storage key", err))
	}
	log := e.log.With("content_hash", hash, "origin_id", f.OriginID)

	rec := &types.ContentRecord{
		ContentHash: hash,
		StorageKey:  key,
		OriginID:    f.OriginID,
		OriginPath:  f.OriginPath,
		OriginName:  f.OriginName,
		Extension:   f.Extension,
		MimeType:    f.MimeType,
		SizeBytes:   int64(len(data)),
		Status:      types.StatusFailedSync,
	}
	created, err := e.states.UpsertOnFirstSeen(dbctx.Of(ctx), rec)
	if err != nil {
		return stateErr("upsert", err)
	}
	if !created {
		run.report.Deduplicated++
		log.Debug("Content already known")
	}

	if _, err := e.store.Put(ctx, hash, data, f.OriginName); err != nil {
		perr := fail(types.ErrorStorageFailure, "put object", err)
		if merr := e.states.MarkFailed(dbctx.Of(ctx), hash, types.StageSync, types.ErrorStorageFailure, perr.Error()); merr != nil {
			return stateErr("mark failed", merr)
		}
		return e.failOrigin(ctx, run, f, perr)
	}

	origin := originOf(f)
	origin.ContentHash = hash
	origin.StorageKey = key
	if err := e.states.RecordOrigin(dbctx.Of(ctx), origin); err != nil {
		return stateErr("record origin", err)
	}
	e.manifest.Record(f.OriginID, manifest.Entry{
		ContentHash:  hash,
		StorageKey:   key,
		OriginName:   f.OriginName,
		OriginPath:   f.OriginPath,
		ModifiedTime: f.ModifiedTime,
		Checksum:     f.Checksum,
	})
	if _, err := e.states.Transition(dbctx.Of(ctx), hash, []types.Status{types.StatusFailedSync}, types.StatusSynced, nil); err != nil {
		return stateErr("transition synced", err)
	}
	run.report.Successful++
	e.obs.ObserveFile(string(types.StageSync), "synced")
	log.Info("Synced", "path", f.OriginPath, "bytes", len(data), "new", created)
	return nil
}

// rename records a new name or path for known content without fetching it again.
func (e *SyncEngine) rename(ctx context.Context, run *syncRun, f source.RemoteFile, entry manifest.Entry) error {
	run.report.Renamed++
	if run.opts.DryRun {
		e.log.Info("Would rename", "origin_id", f.OriginID, "from", entry.OriginPath, "to", f.OriginPath)
		return nil
	}
	if err := e.states.UpdateOriginMetadata(dbctx.Of(ctx), entry.ContentHash, f.OriginID, f.OriginPath, f.OriginName); err != nil {
		return stateErr("update origin metadata", err)
	}
	origin := originOf(f)
	origin.ContentHash = entry.ContentHash
	origin.StorageKey = entry.StorageKey
	if err := e.states.RecordOrigin(dbctx.Of(ctx), origin); err != nil {
		return stateErr("record origin", err)
	}
	entry.OriginName = f.OriginName
	entry.OriginPath = f.OriginPath
	entry.ModifiedTime = f.ModifiedTime
	if f.Checksum != "" {
		entry.Checksum = f.Checksum
	}
	e.manifest.Record(f.OriginID, entry)
	e.obs.ObserveFile(string(types.StageSync), "renamed")
	e.log.Info("Renamed", "content_hash", entry.ContentHash, "origin_id", f.OriginID, "path", f.OriginPath)
	return nil
}

func (e *SyncEngine) failOrigin(ctx context.Context, run *syncRun, f source.RemoteFile, err error) error {
	kind := KindOf(err, types.ErrorSourceUnavailable)
	e.log.Warn("Sync failed", "origin_id", f.OriginID, "path", f.OriginPath, "error_kind", kind, "error", err)
	if merr := e.states.MarkOriginFailed(dbctx.Of(ctx), originOf(f), kind, err.Error()); merr != nil {
		return stateErr("mark origin failed", merr)
	}
	run.report.recordFailure(kind)
	e.obs.ObserveFile(string(types.StageSync), "failed")
	return nil
}

func download(ctx context.Context, f source.RemoteFile) ([]byte, string, error) {
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, "", fail(types.ErrorSourceUnavailable, "open", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(&buf, h), rc); err != nil {
		return nil, "", fail(types.ErrorSourceUnavailable, "download", fmt.Errorf("%s: %w", f.OriginID, err))
	}
	return buf.Bytes(), hex.EncodeToString(h.Sum(nil)), nil
}

func originOf(f source.RemoteFile) *types.OriginFile {
	o := &types.OriginFile{
		OriginID:   f.OriginID,
		OriginPath: f.OriginPath,
		OriginName: f.OriginName,
		MimeType:   f.MimeType,
		Checksum:   f.Checksum,
	}
	if !f.ModifiedTime.IsZero() {
		mod := f.ModifiedTime.UTC()
		o.ModifiedTime = &mod
	}
	return o
}

// sameBytes reports whether the listed file is known to hold the bytes the entry points at.
func sameBytes(entry manifest.Entry, f source.RemoteFile) bool {
	if entry.Checksum != "" && f.Checksum != "" {
		return entry.Checksum == f.Checksum
	}
	return entry.ModifiedTime.Equal(f.ModifiedTime)
}
