// Package pipeline drives a narration job from uploaded document to
// concatenated audio, streaming progress events along the way.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lecternlabs/lectern-core/internal/chunker"
	"github.com/lecternlabs/lectern-core/internal/chunkstore"
	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/events"
	"github.com/lecternlabs/lectern-core/internal/jobstore"
	"github.com/lecternlabs/lectern-core/internal/narrate"
	"github.com/lecternlabs/lectern-core/internal/provider"
)

// Deps carries the collaborators a pipeline run needs. Artwork, Tables,
// and Captions may be nil when the corresponding feature is disabled.
type Deps struct {
	Providers *provider.Manager
	Extractor narrate.Extractor
	Tables    *narrate.TableNarrator
	Captions  *narrate.ImageCaptioner
	Artwork   *narrate.ArtworkGenerator
	Chunks    *chunkstore.Store
	Jobs      jobstore.Store
}

type Orchestrator struct {
	cfg   config.Config
	deps  Deps
	log   *slog.Logger
	clock func() time.Time
}

func New(cfg config.Config, deps Deps, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		log:   log.With(slog.String("component", "pipeline")),
		clock: time.Now,
	}
}

type artworkResult struct {
	art *narrate.Artwork
	err error
}

// Run executes one narration job end to end. Audio synthesis is strictly
// sequential in chunk order; artwork runs to the side and is dropped if it
// misses its window. The sink may already be closed; the job finishes and
// persists regardless.
func (o *Orchestrator) Run(ctx context.Context, jobID, filename string, data []byte, sink *events.Sink) error {
	log := o.log.With(slog.String("job_id", jobID))
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	job.Status = jobstore.StatusRunning
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	// Extraction.
	o.emit(ctx, jobID, sink, events.NewExtractionStart())
	doc, err := o.deps.Extractor.Extract(ctx, filename, data)
	if err != nil {
		return o.fail(ctx, job, sink, fmt.Errorf("extract document: %w", err))
	}
	log.Info("document extracted",
		slog.Int("chars", len(doc.Text)),
		slog.Int("tables", len(doc.Tables)),
		slog.Int("images", len(doc.Images)))

	// Artwork starts as soon as the document is known and races the rest
	// of the job. Its window opens here: synthesis time counts against the
	// artwork deadline, so the wait after concatenation never extends the
	// job past timeout-from-launch.
	var artworkCh chan artworkResult
	if o.deps.Artwork != nil {
		prompt := o.deps.Artwork.Prompt(doc)
		o.emit(ctx, jobID, sink, events.NewArtworkGenerating(prompt))
		artCtx, cancelArt := context.WithTimeout(ctx, o.deps.Artwork.Timeout())
		defer cancelArt()
		artworkCh = make(chan artworkResult, 1)
		go func() {
			art, err := o.deps.Artwork.Generate(artCtx, prompt)
			artworkCh <- artworkResult{art: art, err: err}
		}()
	}

	// Auxiliary narration. Tables and captions run concurrently with each
	// other; failures inside degrade to placeholders, never abort.
	var tableProse, captions []string
	auxDone := make(chan struct{}, 2)
	if o.deps.Tables != nil && len(doc.Tables) > 0 {
		go func() {
			tableProse = o.deps.Tables.NarrateAll(ctx, doc.Tables)
			auxDone <- struct{}{}
		}()
	} else {
		auxDone <- struct{}{}
	}
	if o.deps.Captions != nil && len(doc.Images) > 0 {
		go func() {
			captions = o.deps.Captions.CaptionAll(ctx, doc.Images)
			auxDone <- struct{}{}
		}()
	} else {
		auxDone <- struct{}{}
	}
	<-auxDone
	<-auxDone

	// Assembly and chunking.
	text := assemble(doc, tableProse, captions)
	limit := o.deps.Providers.PrimaryChunkLimit()
	parts := chunker.ChunkText(text, limit)
	if len(parts) == 0 {
		return o.fail(ctx, job, sink, fmt.Errorf("document produced no narration text"))
	}

	job.CharCount = len(text)
	job.PageCount = doc.Pages
	job.TotalChunks = len(parts)
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		log.Warn("persist job counts failed", slog.String("error", err.Error()))
	}
	o.emit(ctx, jobID, sink, events.NewExtractionComplete(len(text), len(doc.Tables), doc.Pages, len(parts)))

	// Sequential synthesis. A chunk that exhausts every provider fails the
	// job; nothing is written for the failed index.
	var (
		totalDuration float64
		ttsCost       float64
		jobStats      = make(map[string]provider.Stats)
	)
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, job, sink, err)
		}
		o.emit(ctx, jobID, sink, events.NewChunkProcessing(i, len(parts), preview(part, o.cfg.Stream.PreviewChars)))

		res, err := o.deps.Providers.Synthesize(ctx, provider.Request{Text: part})
		if err != nil {
			return o.fail(ctx, job, sink, fmt.Errorf("synthesize chunk %d: %w", i, err))
		}
		if err := o.deps.Chunks.Save(jobID, i, res.Audio); err != nil {
			return o.fail(ctx, job, sink, fmt.Errorf("store chunk %d: %w", i, err))
		}

		duration := chunker.EstimateDuration(part, o.cfg.Chunker.WordsPerMinute, o.cfg.Chunker.SpeakingRate)
		totalDuration += duration
		ttsCost += res.Cost
		stats := jobStats[res.Provider]
		stats.Requests++
		stats.TotalCost += res.Cost
		stats.TotalBytes += int64(len(res.Audio))
		stats.AvgLatencyMS = (stats.AvgLatencyMS*float64(stats.Requests-1) + float64(res.Elapsed.Milliseconds())) / float64(stats.Requests)
		jobStats[res.Provider] = stats

		job.ChunksDone = i + 1
		if err := o.deps.Jobs.Update(ctx, job); err != nil {
			log.Warn("persist chunk progress failed", slog.String("error", err.Error()))
		}
		o.emit(ctx, jobID, sink, events.NewChunkReady(i, len(parts),
			base64.StdEncoding.EncodeToString(res.Audio), duration, len(part)))
	}

	if _, err := o.deps.Chunks.Concatenate(jobID, len(parts)); err != nil {
		return o.fail(ctx, job, sink, fmt.Errorf("concatenate audio: %w", err))
	}

	// Bounded artwork wait. The deadline anchored at launch guarantees the
	// receive returns within whatever remains of the window.
	var artworkCost float64
	if artworkCh != nil {
		res := <-artworkCh
		switch {
		case res.err == nil:
			artworkCost = res.art.Cost
			o.emit(ctx, jobID, sink, events.NewArtworkReady(res.art.ImageB64, res.art.MIMEType, res.art.Prompt, res.art.Cost))
		case errors.Is(res.err, context.DeadlineExceeded):
			log.Warn("artwork missed its window, continuing without it")
		case errors.Is(res.err, context.Canceled):
		default:
			log.Warn("artwork generation failed", slog.String("error", res.err.Error()))
		}
	}

	// Costs are recomputed in one place from what actually ran.
	cost := events.CostBreakdown{
		TTS:     ttsCost,
		Artwork: artworkCost,
	}
	if o.deps.Tables != nil {
		cost.Tables = float64(len(doc.Tables)) * o.deps.Tables.UnitCost()
	}
	if o.deps.Captions != nil {
		// Captions count toward document understanding.
		cost.Parsing = float64(len(doc.Images)) * o.deps.Captions.UnitCost()
	}
	cost.Total = cost.Parsing + cost.Tables + cost.TTS + cost.Artwork

	job.Status = jobstore.StatusCompleted
	job.TotalDuration = totalDuration
	job.Cost = cost
	job.Providers = jobStats
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		log.Warn("persist completed job failed", slog.String("error", err.Error()))
	}

	o.emit(ctx, jobID, sink, events.NewComplete(
		"/v1/narrations/"+jobID+"/audio",
		totalDuration,
		cost.Total,
		events.JobStats{
			Chunks:    len(parts),
			Pages:     doc.Pages,
			Cost:      cost,
			Providers: jobStats,
		}))
	log.Info("narration complete",
		slog.Int("chunks", len(parts)),
		slog.Float64("duration_s", totalDuration),
		slog.Float64("cost", cost.Total))
	return nil
}

// emit delivers an event to the live stream and journals it for later
// polling. Journal failures are logged, not fatal.
func (o *Orchestrator) emit(ctx context.Context, jobID string, sink *events.Sink, evt events.Event) {
	sink.Send(evt)
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := o.deps.Jobs.AppendEvent(ctx, jobID, string(evt.Kind()), payload); err != nil {
		o.log.Warn("journal event failed",
			slog.String("job_id", jobID),
			slog.String("type", string(evt.Kind())),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *jobstore.Job, sink *events.Sink, cause error) error {
	o.log.Error("narration failed",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()))
	job.Status = jobstore.StatusFailed
	job.Error = cause.Error()
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		o.log.Warn("persist failed job", slog.String("error", err.Error()))
	}
	o.emit(ctx, job.ID, sink, events.NewError(cause.Error(), false))
	o.deps.Chunks.Cleanup(job.ID)
	return cause
}

// assemble produces the narration script: body text, then each table's
// prose, then each figure caption, in document order.
func assemble(doc *narrate.Document, tableProse, captions []string) string {
	var b strings.Builder
	if doc.Title != "" {
		b.WriteString(doc.Title)
		b.WriteString(".\n\n")
	}
	b.WriteString(strings.TrimSpace(doc.Text))
	for i, prose := range tableProse {
		if prose == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nTable %d. %s", doc.Tables[i].Index+1, prose)
	}
	for i, caption := range captions {
		if caption == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nFigure %d. %s", doc.Images[i].Index+1, caption)
	}
	return b.String()
}

func preview(text string, max int) string {
	if max <= 0 {
		max = 80
	}
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}
