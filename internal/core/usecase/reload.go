package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"insure-rag/internal/core/ports"
)

// ReloadUseCase loads a corpus snapshot from the offline extraction output,
// indexes it into a fresh versioned collection and atomically swaps the
// active references. The previous snapshot keeps serving in-flight requests.
type ReloadUseCase struct {
	source ports.CorpusSource
	index  ports.ChunkIndex
	state  *CorpusState

	// Policy-file synonyms layered over the corpus-provided table.
	extraSynonyms map[string]string

	logger *slog.Logger
}

func NewReloadUseCase(
	source ports.CorpusSource,
	index ports.ChunkIndex,
	state *CorpusState,
	extraSynonyms map[string]string,
	logger *slog.Logger,
) *ReloadUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadUseCase{
		source:        source,
		index:         index,
		state:         state,
		extraSynonyms: extraSynonyms,
		logger:        logger,
	}
}

func (uc *ReloadUseCase) Reload(ctx context.Context) (int, error) {
	started := time.Now()

	snapshot, err := uc.source.LoadSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load corpus snapshot: %w", err)
	}

	version := started.UTC().Format("20060102t150405")
	if err := uc.index.IndexSnapshot(ctx, version, snapshot.Chunks); err != nil {
		return 0, fmt.Errorf("index corpus snapshot %s: %w", version, err)
	}

	synonyms := make(map[string]string, len(snapshot.Synonyms)+len(uc.extraSynonyms))
	for slang, formal := range snapshot.Synonyms {
		synonyms[slang] = formal
	}
	for slang, formal := range uc.extraSynonyms {
		synonyms[slang] = formal
	}

	previous := uc.state.Version()
	uc.index.Swap(version)
	uc.state.swap(version, synonyms, snapshot.Summaries)

	// The retired snapshot has no readers once the swap is visible. Cleanup
	// failure only leaks a collection, never the reload.
	if previous != "" && previous != version {
		if err := uc.index.DropVersion(ctx, previous); err != nil {
			uc.logger.Warn("stale_snapshot_not_dropped", "version", previous, "error", err)
		}
	}

	uc.logger.Info("corpus_reloaded",
		"version", version,
		"chunks", len(snapshot.Chunks),
		"products", len(snapshot.Summaries),
		"synonyms", len(synonyms),
		"duration_ms", float64(time.Since(started).Microseconds())/1000.0,
	)
	return len(snapshot.Chunks), nil
}
