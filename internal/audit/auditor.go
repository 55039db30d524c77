// Package audit finds duplicate groups across the whole pool and reports them
// for manual cleanup. It never deletes anything itself.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/store"
)

// Ordering compares two members of a duplicate group; the smallest member is
// the original to keep. The default orders by creation time, then ID, so runs
// over the same data always pick the same original.
type Ordering func(a, b models.GalleryItem) bool

func defaultOrdering(a, b models.GalleryItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Auditor scans for items sharing a filename and byte size. Unlike the upload
// dedup check, grouping here ignores the uploader: cross-uploader copies of
// one file are duplicates for audit purposes.
type Auditor struct {
	records  store.RecordStore
	notifier store.Notifier
	metrics  *observability.PipelineMetrics
	ordering Ordering

	maxGroups  int
	batchDelay time.Duration
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithOrdering overrides the comparator that decides which group member is
// the original.
func WithOrdering(ord Ordering) Option {
	return func(a *Auditor) {
		if ord != nil {
			a.ordering = ord
		}
	}
}

// WithReportLimits sets the per-run group cap and the delay between posts.
func WithReportLimits(maxGroups int, delay time.Duration) Option {
	return func(a *Auditor) {
		if maxGroups > 0 {
			a.maxGroups = maxGroups
		}
		if delay >= 0 {
			a.batchDelay = delay
		}
	}
}

// NewAuditor creates an Auditor. notifier and metrics may be nil; without a
// notifier only Audit is useful.
func NewAuditor(records store.RecordStore, notifier store.Notifier, metrics *observability.PipelineMetrics, opts ...Option) *Auditor {
	a := &Auditor{
		records:    records,
		notifier:   notifier,
		metrics:    metrics,
		ordering:   defaultOrdering,
		maxGroups:  10,
		batchDelay: time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Audit fetches the full pool and returns every group of two or more items
// sharing filename and file size. Group members are ordered with the original
// first. Groups come back ordered by their original's creation time so output
// is stable between runs.
func (a *Auditor) Audit(ctx context.Context) ([]models.DuplicateGroup, error) {
	ctx, span := observability.StartServiceSpan(ctx, "audit", "scan")
	defer span.End()

	items, err := a.records.SelectItems(ctx, store.Query{
		Order: store.Order{Column: "created_at"},
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	type groupKey struct {
		filename string
		fileSize int64
	}
	buckets := make(map[groupKey][]models.GalleryItem)
	for _, it := range items {
		k := groupKey{it.Filename, it.FileSize}
		buckets[k] = append(buckets[k], it)
	}

	var groups []models.DuplicateGroup
	for k, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return a.ordering(members[i], members[j])
		})
		groups = append(groups, models.DuplicateGroup{
			Filename: k.filename,
			FileSize: k.fileSize,
			Members:  members,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return a.ordering(groups[i].Original(), groups[j].Original())
	})

	if a.metrics != nil {
		a.metrics.RecordAuditRun(ctx, len(groups))
	}
	observability.SetSuccess(span)
	return groups, nil
}

// Report runs an audit and posts the findings to the notifier, one message
// per group, capped per run with a trailing marker for the remainder. A
// notifier failure is logged and skipped, not fatal: the audit result is
// still returned.
func (a *Auditor) Report(ctx context.Context) ([]models.DuplicateGroup, error) {
	groups, err := a.Audit(ctx)
	if err != nil {
		return nil, err
	}
	if a.notifier == nil || len(groups) == 0 {
		return groups, nil
	}

	if err := a.post(ctx, store.Message{
		Title: "Duplicate audit",
		Body:  fmt.Sprintf("Found %d duplicate group(s) across the pool.", len(groups)),
	}); err != nil {
		observability.Warnf("audit: summary post failed: %v", err)
	}

	limit := len(groups)
	if limit > a.maxGroups {
		limit = a.maxGroups
	}

	for i := 0; i < limit; i++ {
		a.pace(ctx)
		if err := a.post(ctx, groupMessage(i+1, groups[i])); err != nil {
			observability.Warnf("audit: post for group %d failed: %v", i+1, err)
		}
	}

	if len(groups) > limit {
		a.pace(ctx)
		if err := a.post(ctx, store.Message{
			Body: fmt.Sprintf("... and %d more duplicate group(s) not shown.", len(groups)-limit),
		}); err != nil {
			observability.Warnf("audit: overflow post failed: %v", err)
		}
	}

	return groups, nil
}

func (a *Auditor) post(ctx context.Context, msg store.Message) error {
	return a.notifier.Post(ctx, msg)
}

func (a *Auditor) pace(ctx context.Context) {
	if a.batchDelay <= 0 {
		return
	}
	select {
	case <-time.After(a.batchDelay):
	case <-ctx.Done():
	}
}

// groupMessage renders one duplicate group: the original to keep, the copies
// to remove, and a ready-made SQL statement doing exactly that.
func groupMessage(index int, g models.DuplicateGroup) store.Message {
	original := g.Original()
	removable := g.Removable()

	uploaders := make(map[string]struct{})
	for _, m := range g.Members {
		uploaders[m.UploaderName] = struct{}{}
	}
	names := make([]string, 0, len(uploaders))
	for n := range uploaders {
		names = append(names, n)
	}
	sort.Strings(names)

	removeIDs := make([]string, len(removable))
	for i, m := range removable {
		removeIDs[i] = m.ID
	}

	fields := []store.Field{
		{Name: "Filename", Value: g.Filename},
		{Name: "Size", Value: fmt.Sprintf("%d bytes", g.FileSize)},
		{Name: "Copies", Value: fmt.Sprintf("%d", len(g.Members))},
		{Name: "Uploaders", Value: strings.Join(names, ", ")},
		{Name: "Keep", Value: original.ID},
		{Name: "Remove", Value: strings.Join(removeIDs, ", ")},
		{Name: "Cleanup SQL", Value: deleteStatement(removeIDs)},
	}

	return store.Message{
		Sections: []store.Section{{
			Title:  fmt.Sprintf("Group %d: %s", index, g.Filename),
			Fields: fields,
			Image:  original.URL,
		}},
	}
}

func deleteStatement(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	return fmt.Sprintf("DELETE FROM images WHERE id IN (%s);", strings.Join(quoted, ", "))
}
