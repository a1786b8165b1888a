package order

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zombor/exam-quote/internal/catalog"
	"github.com/zombor/exam-quote/internal/learning"
	"github.com/zombor/exam-quote/internal/quote"
	"github.com/zombor/exam-quote/internal/reconcile"
	"github.com/zombor/exam-quote/internal/scanning"
)

// IDGenerator generates unique IDs for orders
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Journal reads back what the operators taught the system
type Journal interface {
	LookupMapping(term string) (*learning.LearnedMapping, error)
	ListMappings() ([]*learning.LearnedMapping, error)
	ListMissing() ([]*learning.MissingTerm, error)
}

// Options tune how orders are reconciled
type Options struct {
	DefaultUnit string
	// SearchLimit is the per-item manual search rate
	SearchLimit rate.Limit
	Plans       []quote.Plan
	// Journal is optional; without it the learning endpoints answer ErrNoJournal
	Journal Journal
}

type session struct {
	mu       sync.Mutex
	order    Order
	workflow *reconcile.Workflow
}

// Service holds the orders being worked on. Orders live only in memory; the
// uploaded images are kept in Storage until the order is deleted.
type Service struct {
	extractor   scanning.Extractor
	storage     Storage
	catalog     reconcile.Catalog
	learner     reconcile.Learner
	options     Options
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService creates a new Service with uuid order ids
func NewService(extractor scanning.Extractor, storage Storage, c reconcile.Catalog, learner reconcile.Learner, options Options) *Service {
	return NewServiceWithDeps(extractor, storage, c, learner, options, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(extractor scanning.Extractor, storage Storage, c reconcile.Catalog, learner reconcile.Learner, options Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	if options.SearchLimit == 0 {
		options.SearchLimit = rate.Every(reconcile.DefaultSearchInterval)
	}
	if options.Plans == nil {
		options.Plans = quote.DefaultPlans
	}
	return &Service{
		extractor:   extractor,
		storage:     storage,
		catalog:     c,
		learner:     learner,
		options:     options,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*session),
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename shortens phone-generated names and strips characters unsafe on disk
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "order"
	}
	if ext = unsafeChars.ReplaceAllString(strings.TrimPrefix(ext, "."), ""); ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// CreateOrder stores the uploaded image, extracts its lines and opens a session for it
func (s *Service) CreateOrder(ctx context.Context, filename string, data []byte, contentType string, unit string) (*View, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		unit = s.options.DefaultUnit
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extraction, err := s.extractor.Extract(ctx, scanning.Document{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Unit:        unit,
	})
	if err != nil {
		slog.Error("Failed to extract order",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(savedName); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedName, "error", delErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if extraction == nil {
		extraction = &scanning.Extraction{}
	}

	sess := &session{
		order: Order{
			ID:          id,
			Unit:        unit,
			Filename:    savedName,
			ContentType: contentType,
			Extraction:  extraction,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		workflow: reconcile.NewWorkflowWithDeps(s.catalog, s.learner, unit, s.options.SearchLimit),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	slog.Info("Order extracted", "order_id", id, "unit", unit, "lines", len(extraction.Lines), "model", extraction.ModelUsed)
	return sess.view(), nil
}

func (s *Service) session(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	return sess, nil
}

func (sess *session) view() *View {
	sess.mu.Lock()
	o := sess.order
	o.Extraction = sess.order.Extraction.Clone()
	sess.mu.Unlock()
	return &View{Order: o, Reconciliation: sess.workflow.Snapshot()}
}

func (sess *session) touch(now time.Time) {
	sess.mu.Lock()
	sess.order.UpdatedAt = now
	sess.mu.Unlock()
}

// GetOrder returns an order with its reconciliation state
func (s *Service) GetOrder(id string) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.view(), nil
}

// ListOrders returns every open order, oldest first
func (s *Service) ListOrders() []Summary {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	summaries := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		v := sess.view()
		lines := 0
		if v.Extraction != nil {
			lines = len(v.Extraction.Lines)
		}
		summaries = append(summaries, Summary{
			ID:        v.ID,
			Unit:      v.Unit,
			Filename:  v.Filename,
			Lines:     lines,
			Items:     len(v.Reconciliation.Items),
			Readiness: v.Reconciliation.Readiness,
			CreatedAt: v.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// GetOrderFile returns the uploaded image of an order
func (s *Service) GetOrderFile(id string) ([]byte, string, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, "", err
	}
	sess.mu.Lock()
	filename, contentType := sess.order.Filename, sess.order.ContentType
	sess.mu.Unlock()

	data, err := s.storage.Get(filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting order file: %w", err)
	}
	return data, contentType, nil
}

// DeleteOrder discards an order and its image
func (s *Service) DeleteOrder(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	if err := s.storage.Delete(sess.order.Filename); err != nil {
		slog.Warn("Failed to delete file", "filename", sess.order.Filename, "error", err)
	}
	return nil
}

// EditLine replaces the corrected reading of one extracted line
func (s *Service) EditLine(id string, index int, corrected string) (*scanning.Line, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.order.Extraction.EditLine(index, corrected); err != nil {
		return nil, fmt.Errorf("editing line %d: %w", index, err)
	}
	sess.order.UpdatedAt = s.timeSource.Now()
	line := sess.order.Extraction.Lines[index]
	return &line, nil
}

// Reconcile validates the order's current terms against the catalog.
// Calling it again resubmits the terms, so it doubles as the retry after a failure.
func (s *Service) Reconcile(ctx context.Context, id string) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	terms := reconcile.DeriveTerms(sess.order.Extraction)
	sess.mu.Unlock()

	if _, err := sess.workflow.Reconcile(ctx, terms); err != nil {
		return nil, err
	}
	sess.touch(s.timeSource.Now())
	return sess.view(), nil
}

// SelectCandidate resolves an item to one of its candidates
func (s *Service) SelectCandidate(id string, itemID int, index int) (reconcile.Item, error) {
	sess, err := s.session(id)
	if err != nil {
		return reconcile.Item{}, err
	}
	item, err := sess.workflow.Select(itemID, index)
	if err != nil {
		return reconcile.Item{}, err
	}
	sess.touch(s.timeSource.Now())
	return item, nil
}

// RemoveItem drops an item from the order
func (s *Service) RemoveItem(id string, itemID int) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	if err := sess.workflow.Remove(itemID); err != nil {
		return err
	}
	sess.touch(s.timeSource.Now())
	return nil
}

// AddItem adds a blank item with its search open
func (s *Service) AddItem(id string) (reconcile.Item, error) {
	sess, err := s.session(id)
	if err != nil {
		return reconcile.Item{}, err
	}
	item := sess.workflow.AddManual()
	sess.touch(s.timeSource.Now())
	return item, nil
}

// OpenSearch opens a fresh manual search on an item
func (s *Service) OpenSearch(id string, itemID int) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	return sess.workflow.OpenSearch(itemID)
}

// Search runs a manual catalog search for one item
func (s *Service) Search(ctx context.Context, id string, itemID int, term string) ([]catalog.Match, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.workflow.Search(ctx, itemID, term)
}

// CancelSearch closes the manual search of an item
func (s *Service) CancelSearch(id string, itemID int) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	return sess.workflow.CancelSearch(itemID)
}

// AttachResult accepts one manual search result for an item
func (s *Service) AttachResult(id string, itemID int, resultIndex int) (reconcile.Item, error) {
	sess, err := s.session(id)
	if err != nil {
		return reconcile.Item{}, err
	}
	item, err := sess.workflow.AttachResult(itemID, resultIndex)
	if err != nil {
		return reconcile.Item{}, err
	}
	sess.touch(s.timeSource.Now())
	return item, nil
}

// Proceed confirms the exam list and prices it. Learning reports go out in the background.
func (s *Service) Proceed(ctx context.Context, id string) (*Result, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	exams, err := sess.workflow.Proceed(ctx)
	if err != nil {
		return nil, err
	}
	sess.touch(s.timeSource.Now())

	return &Result{
		OrderID: id,
		Exams:   exams,
		Quote:   quote.SummarizeWithPlans(sess.workflow.Unit(), exams, s.options.Plans),
	}, nil
}

// LearnedMappings lists every correction the operators confirmed
func (s *Service) LearnedMappings() ([]*learning.LearnedMapping, error) {
	if s.options.Journal == nil {
		return nil, ErrNoJournal
	}
	mappings, err := s.options.Journal.ListMappings()
	if err != nil {
		return nil, fmt.Errorf("listing learned mappings: %w", err)
	}
	return mappings, nil
}

// LearnedMapping returns the accepted exam for one term
func (s *Service) LearnedMapping(term string) (*learning.LearnedMapping, error) {
	if s.options.Journal == nil {
		return nil, ErrNoJournal
	}
	return s.options.Journal.LookupMapping(term)
}

// MissingTerms lists the terms the catalog could not match, for catalog maintenance
func (s *Service) MissingTerms() ([]*learning.MissingTerm, error) {
	if s.options.Journal == nil {
		return nil, ErrNoJournal
	}
	terms, err := s.options.Journal.ListMissing()
	if err != nil {
		return nil, fmt.Errorf("listing missing terms: %w", err)
	}
	return terms, nil
}
