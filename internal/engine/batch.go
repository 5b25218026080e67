package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"bulkgen/internal/domain"
	"bulkgen/internal/providers"
)

// BatchProcessor turns pending rows into model calls. It batches rows into a
// single numbered prompt per chunk, parses the multi-item response back into
// per-row results, and falls back to per-row calls when the chunk invocation
// fails.
type BatchProcessor struct {
	cache  *ResponseCache
	logger zerolog.Logger
}

func NewBatchProcessor(cache *ResponseCache, logger zerolog.Logger) *BatchProcessor {
	return &BatchProcessor{cache: cache, logger: logger}
}

// Partition splits rows into consecutive chunks of at most size.
func Partition(rows []domain.InputRow, size int) [][]domain.InputRow {
	if size <= 0 {
		size = 1
	}
	var chunks [][]domain.InputRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// TokenUsage counts tokens actually consumed from the provider. Cache hits
// contribute nothing here even though the row results still report the
// memoized token cost.
type TokenUsage struct {
	Input  int
	Output int
}

// Total returns combined input and output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

func (u *TokenUsage) add(reply *providers.Reply) {
	u.Input += reply.InputTokens
	u.Output += reply.OutputTokens
}

// ProcessChunk handles one chunk end to end and always returns one result per
// row. A chunk-level invocation failure degrades to per-row calls; a row-level
// failure is recorded on the result and is terminal for that row.
func (p *BatchProcessor) ProcessChunk(ctx context.Context, invoker providers.ModelInvoker, model, instructions string, chunk []domain.InputRow) ([]domain.RowResult, TokenUsage) {
	var usage TokenUsage
	if len(chunk) == 0 {
		return nil, usage
	}
	if len(chunk) == 1 {
		res := p.processRow(ctx, invoker, model, instructions, chunk[0], &usage)
		return []domain.RowResult{res}, usage
	}

	prompt := renderNumberedPrompt(chunk)
	key := p.cache.Key(model, instructions, prompt)

	if hit, ok := p.cache.Get(ctx, key); ok {
		return p.mapResponse(chunk, hit.Response, hit.TokensUsed, true), usage
	}

	reply, err := invoker.Invoke(ctx, instructions, prompt)
	if err != nil {
		p.logger.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("batch: chunk invocation failed, falling back to rows")
		return p.processRows(ctx, invoker, model, instructions, chunk, &usage), usage
	}

	usage.add(reply)
	p.cache.Put(ctx, key, model, reply.Text, reply.InputTokens+reply.OutputTokens)
	return p.mapResponse(chunk, reply.Text, reply.InputTokens+reply.OutputTokens, false), usage
}

func (p *BatchProcessor) mapResponse(chunk []domain.InputRow, response string, totalTokens int, cached bool) []domain.RowResult {
	outputs := parseBatchResponse(response, len(chunk))
	perRowTokens := totalTokens / len(chunk)
	remainder := totalTokens % len(chunk)
	results := make([]domain.RowResult, len(chunk))
	for i, row := range chunk {
		// Earlier rows absorb the remainder so the per-row tokens sum back
		// to the batch total.
		tokens := perRowTokens
		if i < remainder {
			tokens++
		}
		results[i] = domain.RowResult{
			Index:  row.Index,
			Input:  row.Input,
			Output: outputs[i],
			Tokens: tokens,
			Cached: cached,
		}
	}
	return results
}

// processRows is the row-level fallback path. The cache is still consulted
// per row.
func (p *BatchProcessor) processRows(ctx context.Context, invoker providers.ModelInvoker, model, instructions string, chunk []domain.InputRow, usage *TokenUsage) []domain.RowResult {
	results := make([]domain.RowResult, len(chunk))
	for i, row := range chunk {
		results[i] = p.processRow(ctx, invoker, model, instructions, row, usage)
	}
	return results
}

func (p *BatchProcessor) processRow(ctx context.Context, invoker providers.ModelInvoker, model, instructions string, row domain.InputRow, usage *TokenUsage) domain.RowResult {
	key := p.cache.Key(model, instructions, row.Input)
	if hit, ok := p.cache.Get(ctx, key); ok {
		return domain.RowResult{
			Index:  row.Index,
			Input:  row.Input,
			Output: strings.TrimSpace(hit.Response),
			Tokens: hit.TokensUsed,
			Cached: true,
		}
	}

	reply, err := invoker.Invoke(ctx, instructions, row.Input)
	if err != nil {
		p.logger.Warn().Err(err).Int("row_index", row.Index).Msg("batch: row invocation failed")
		return domain.RowResult{Index: row.Index, Input: row.Input, Error: err.Error()}
	}

	usage.add(reply)
	p.cache.Put(ctx, key, model, reply.Text, reply.InputTokens+reply.OutputTokens)
	return domain.RowResult{
		Index:  row.Index,
		Input:  row.Input,
		Output: strings.TrimSpace(reply.Text),
		Tokens: reply.InputTokens + reply.OutputTokens,
	}
}

func renderNumberedPrompt(chunk []domain.InputRow) string {
	var sb strings.Builder
	for i, row := range chunk {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, row.Input)
	}
	return sb.String()
}

// itemMarker matches "1. ", "1) " and "1: " style leading numbering.
var itemMarker = regexp.MustCompile(`^\s*(\d+)\s*[.):]\s*(.*)$`)

// parseBatchResponse maps a numbered multi-item response onto n chunk
// positions. Lines without a marker continue the current item, which keeps
// multi-line outputs intact. When no markers were found at all and the
// response has at least n lines, positions are filled line by line instead.
// Positions still unmapped after both strategies stay empty.
func parseBatchResponse(response string, n int) []string {
	outputs := make([]string, n)
	lines := strings.Split(response, "\n")

	current := -1
	parts := make([][]string, n)
	for _, line := range lines {
		if m := itemMarker.FindStringSubmatch(line); m != nil {
			num, err := strconv.Atoi(m[1])
			if err == nil && num >= 1 && num <= n {
				current = num - 1
				parts[current] = append(parts[current], m[2])
				continue
			}
		}
		if current >= 0 {
			parts[current] = append(parts[current], line)
		}
	}

	empty := true
	for i := range parts {
		outputs[i] = strings.TrimSpace(strings.Join(parts[i], "\n"))
		if outputs[i] != "" {
			empty = false
		}
	}

	if empty && len(lines) >= n {
		for i := 0; i < n; i++ {
			outputs[i] = strings.TrimSpace(lines[i])
		}
	}

	return outputs
}
