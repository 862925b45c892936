package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"insure-rag/internal/core/domain"
)

// Loader reads the per-product JSON files written by the offline extraction
// job and assembles one corpus snapshot: chunk records with precomputed
// embeddings, the product summary table and the colloquial-to-formal synonym
// table. Unknown JSON fields are ignored, so newer extraction output keeps
// loading on older service builds.
type Loader struct {
	dir    string
	logger *slog.Logger
}

func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

type synonymEntry struct {
	Slang  string `json:"slang"`
	Formal string `json:"formal"`
}

type chunkRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	MinAge    *int      `json:"min_age"`
	MaxAge    *int      `json:"max_age"`
	Tags      []string  `json:"tags"`
}

type policyDocument struct {
	SourceFilename string `json:"source_filename"`
	BasicInfo      struct {
		ProductName string `json:"product_name"`
		ProductCode string `json:"product_code"`
		ProductType string `json:"product_type"`
	} `json:"basic_info"`
	Conditions struct {
		AgeRange string `json:"age_range"`
	} `json:"conditions"`
	Investment struct {
		Features []string `json:"features"`
	} `json:"investment"`
	RagData struct {
		Keywords       []string       `json:"keywords"`
		SynonymMapping []synonymEntry `json:"synonym_mapping"`
		TargetAudience string         `json:"target_audience"`
	} `json:"rag_data"`
	Chunks []chunkRecord `json:"chunks"`
}

func (l *Loader) LoadSnapshot(_ context.Context) (*domain.CorpusSnapshot, error) {
	snapshot := &domain.CorpusSnapshot{
		Summaries: make(map[string]domain.ProductSummary),
		Synonyms:  make(map[string]string),
	}

	walkErr := filepath.WalkDir(l.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		doc, err := readPolicyDocument(path)
		if err != nil {
			// One bad extraction output must not block the whole reload.
			l.logger.Warn("corpus_file_skipped", "path", path, "error", err)
			return nil
		}
		l.mergeDocument(snapshot, doc, filepath.Base(path))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan corpus dir %s: %w", l.dir, walkErr)
	}
	if len(snapshot.Chunks) == 0 {
		return nil, fmt.Errorf("corpus dir %s contains no usable chunks", l.dir)
	}
	return snapshot, nil
}

func (l *Loader) mergeDocument(snapshot *domain.CorpusSnapshot, doc *policyDocument, filename string) {
	productID := doc.SourceFilename
	if productID == "" {
		productID = filename
	}

	snapshot.Summaries[productID] = domain.ProductSummary{
		ProductID: productID,
		Name:      doc.BasicInfo.ProductName,
		Intro: fmt.Sprintf(
			"【商品總覽】\n名稱: %s\n類型: %s\n特色: %s\n適合對象: %s",
			doc.BasicInfo.ProductName,
			doc.BasicInfo.ProductType,
			strings.Join(doc.Investment.Features, "、"),
			doc.RagData.TargetAudience,
		),
	}

	for _, entry := range doc.RagData.SynonymMapping {
		formal := strings.TrimSpace(entry.Formal)
		if formal == "" {
			continue
		}
		// One slang field may carry several comma-separated colloquialisms.
		for _, slang := range strings.FieldsFunc(entry.Slang, func(r rune) bool {
			return r == '、' || r == ',' || r == '，'
		}) {
			slang = strings.TrimSpace(slang)
			if slang != "" {
				snapshot.Synonyms[slang] = formal
			}
		}
	}

	docMin, docMax := ParseAgeRange(doc.Conditions.AgeRange)
	skipped := 0
	for i, record := range doc.Chunks {
		if strings.TrimSpace(record.Text) == "" || len(record.Embedding) == 0 {
			skipped++
			continue
		}
		chunk := domain.Chunk{
			ID:        record.ID,
			Text:      record.Text,
			Embedding: record.Embedding,
			ProductID: productID,
			MinAge:    record.MinAge,
			MaxAge:    record.MaxAge,
			Tags:      record.Tags,
		}
		if chunk.ID == "" {
			chunk.ID = fmt.Sprintf("%s#%d", productID, i)
		}
		if chunk.MinAge == nil && chunk.MaxAge == nil {
			chunk.MinAge, chunk.MaxAge = docMin, docMax
		}
		if len(chunk.Tags) == 0 {
			chunk.Tags = doc.RagData.Keywords
		}
		snapshot.Chunks = append(snapshot.Chunks, chunk)
	}
	if skipped > 0 {
		l.logger.Warn("corpus_chunks_skipped", "product", productID, "skipped", skipped)
	}
}

func readPolicyDocument(path string) (*policyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc policyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy json: %w", err)
	}
	return &doc, nil
}

var ageNumberRe = regexp.MustCompile(`(\d+)\s*(?:足)?\s*歲`)

// ParseAgeRange extracts issue-age bounds from the free-text condition the
// extraction job captures, e.g. "0歲～65歲", "出生滿15日~70歲", "20足歲以上".
// An unparseable condition yields open bounds, which never exclude anyone.
func ParseAgeRange(s string) (minAge, maxAge *int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	matches := ageNumberRe.FindAllStringSubmatch(s, -1)
	nums := make([]int, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.Atoi(m[1]); err == nil {
			nums = append(nums, n)
		}
	}

	switch {
	case len(nums) >= 2:
		lo, hi := nums[0], nums[len(nums)-1]
		if lo > hi {
			lo, hi = hi, lo
		}
		return intPtr(lo), intPtr(hi)
	case len(nums) == 1:
		n := nums[0]
		if strings.Contains(s, "以上") {
			return intPtr(n), nil
		}
		if strings.Contains(s, "以下") || strings.Contains(s, "未滿") {
			minAge = nil
			// Newborn-from-day wording means coverage starts at age zero.
			if strings.Contains(s, "出生") || strings.Contains(s, "日") {
				minAge = intPtr(0)
			}
			return minAge, intPtr(n)
		}
		if strings.Contains(s, "出生") || strings.Contains(s, "日") {
			return intPtr(0), intPtr(n)
		}
		return nil, intPtr(n)
	default:
		return nil, nil
	}
}

func intPtr(v int) *int { return &v }
