// Package memory is an in-process reference dataset and proposal store,
// used by tests and by the CLI when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cadastre-match/internal/match"
)

type pairKey struct {
	source    string
	reference string
}

// Store keeps everything in maps guarded by one mutex. Transactions hold the
// write lock for their whole duration and stage writes until commit.
type Store struct {
	mu         sync.RWMutex
	references map[string]match.ReferenceRecord
	records    map[string]match.CollectionRecord
	proposals  map[string]match.Proposal
	pairs      map[pairKey]string
}

// New creates an empty store
func New() *Store {
	return &Store{
		references: make(map[string]match.ReferenceRecord),
		records:    make(map[string]match.CollectionRecord),
		proposals:  make(map[string]match.Proposal),
		pairs:      make(map[pairKey]string),
	}
}

// AddReference loads reference records, replacing any with the same id
func (s *Store) AddReference(refs ...match.ReferenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		ref.PropertyFields = ref.PropertyFields.Clone()
		s.references[ref.ID] = ref
	}
}

// PutRecord stores a collection record
func (s *Store) PutRecord(rec match.CollectionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
}

// UpsertReferences is AddReference for the importer
func (s *Store) UpsertReferences(ctx context.Context, refs []match.ReferenceRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "upsert references")
	}
	s.AddReference(refs...)
	return nil
}

// UpsertCollectionRecords stores collected records. Records that already
// carry an applied match are left untouched.
func (s *Store) UpsertCollectionRecords(ctx context.Context, recs []match.CollectionRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "upsert collection records")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if cur, ok := s.records[rec.ID]; ok && cur.MatchedReferenceID != "" {
			continue
		}
		s.records[rec.ID] = cloneRecord(rec)
	}
	return nil
}

// Record returns a copy of a collection record
func (s *Store) Record(id string) (match.CollectionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return match.CollectionRecord{}, false
	}
	return cloneRecord(rec), true
}

// GetCollectionRecord is Record with the store error contract
func (s *Store) GetCollectionRecord(ctx context.Context, id string) (match.CollectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return match.CollectionRecord{}, errors.Wrap(err, "get collection record")
	}
	rec, ok := s.Record(id)
	if !ok {
		return match.CollectionRecord{}, errors.Wrapf(match.ErrNotFound, "collection record %s", id)
	}
	return rec, nil
}

// QueryCandidates scans active references of the municipality in id order
func (s *Store) QueryCandidates(ctx context.Context, filter match.CandidateFilter, municipality string, limit int) ([]match.ReferenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "query candidates")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.references))
	for id := range s.references {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []match.ReferenceRecord
	for _, id := range ids {
		ref := s.references[id]
		if !ref.Active || ref.Municipality != municipality || !filter.Matches(ref) {
			continue
		}
		ref.PropertyFields = ref.PropertyFields.Clone()
		out = append(out, ref)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetReference returns a reference record by id
func (s *Store) GetReference(ctx context.Context, id string) (match.ReferenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.references[id]
	if !ok {
		return match.ReferenceRecord{}, errors.Wrapf(match.ErrNotFound, "reference %s", id)
	}
	ref.PropertyFields = ref.PropertyFields.Clone()
	return ref, nil
}

// UpsertProposal inserts or refreshes the proposal for a (source, reference)
// pair. Finalized rows are returned untouched.
func (s *Store) UpsertProposal(ctx context.Context, p match.Proposal) (match.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{source: p.SourceRecordID, reference: p.ReferenceID}
	if id, ok := s.pairs[key]; ok {
		existing := s.proposals[id]
		if existing.Status.Finalized() {
			return cloneProposal(existing), nil
		}
		existing.Score = p.Score
		existing.Criteria = p.Criteria
		existing.UpdatedAt = p.UpdatedAt
		s.proposals[id] = cloneProposal(existing)
		return cloneProposal(existing), nil
	}

	s.pairs[key] = p.ID
	s.proposals[p.ID] = cloneProposal(p)
	return cloneProposal(p), nil
}

// GetProposal returns a proposal by id
func (s *Store) GetProposal(ctx context.Context, id string) (match.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return match.Proposal{}, errors.Wrapf(match.ErrNotFound, "proposal %s", id)
	}
	return cloneProposal(p), nil
}

// ListProposals returns the proposals of a collection record, best score first
func (s *Store) ListProposals(ctx context.Context, sourceRecordID string) ([]match.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []match.Proposal
	for _, p := range s.proposals {
		if p.SourceRecordID == sourceRecordID {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WithinTx runs fn under the write lock and commits staged writes only when
// fn succeeds
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx match.ProposalTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		store:     s,
		proposals: make(map[string]match.Proposal),
		records:   make(map[string]match.CollectionRecord),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}

	for id, p := range t.proposals {
		s.proposals[id] = p
	}
	for id, rec := range t.records {
		s.records[id] = rec
	}
	return nil
}

// tx reads through to the store and stages writes. The store lock is held
// by WithinTx, so tx methods never lock.
type tx struct {
	store     *Store
	proposals map[string]match.Proposal
	records   map[string]match.CollectionRecord
}

func (t *tx) LockProposal(ctx context.Context, id string) (match.Proposal, error) {
	if p, ok := t.proposals[id]; ok {
		return cloneProposal(p), nil
	}
	p, ok := t.store.proposals[id]
	if !ok {
		return match.Proposal{}, errors.Wrapf(match.ErrNotFound, "proposal %s", id)
	}
	return cloneProposal(p), nil
}

func (t *tx) GetReference(ctx context.Context, id string) (match.ReferenceRecord, error) {
	ref, ok := t.store.references[id]
	if !ok {
		return match.ReferenceRecord{}, errors.Wrapf(match.ErrNotFound, "reference %s", id)
	}
	ref.PropertyFields = ref.PropertyFields.Clone()
	return ref, nil
}

func (t *tx) GetFields(ctx context.Context, recordID string) (match.CollectionRecord, error) {
	if rec, ok := t.records[recordID]; ok {
		return cloneRecord(rec), nil
	}
	rec, ok := t.store.records[recordID]
	if !ok {
		return match.CollectionRecord{}, errors.Wrapf(match.ErrNotFound, "collection record %s", recordID)
	}
	return cloneRecord(rec), nil
}

func (t *tx) SetFields(ctx context.Context, rec match.CollectionRecord) error {
	if _, ok := t.store.records[rec.ID]; !ok {
		return errors.Wrapf(match.ErrNotFound, "collection record %s", rec.ID)
	}
	t.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (t *tx) TransitionProposal(ctx context.Context, id string, from []match.ProposalStatus, to match.ProposalStatus, resolvedBy *string, at time.Time) (bool, error) {
	p, err := t.LockProposal(ctx, id)
	if err != nil {
		return false, err
	}

	allowed := false
	for _, f := range from {
		if p.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	p.Status = to
	if to == match.StatusAutoApplied {
		p.AutoApplied = true
	}
	p.UpdatedAt = at
	p.ResolvedAt = &at
	if resolvedBy != nil {
		by := *resolvedBy
		p.ResolvedBy = &by
	}
	t.proposals[id] = p
	return true, nil
}

func cloneProposal(p match.Proposal) match.Proposal {
	out := p
	if p.Criteria != nil {
		out.Criteria = append([]match.MatchCriterion(nil), p.Criteria...)
	}
	if p.ResolvedAt != nil {
		at := *p.ResolvedAt
		out.ResolvedAt = &at
	}
	if p.ResolvedBy != nil {
		by := *p.ResolvedBy
		out.ResolvedBy = &by
	}
	return out
}

func cloneRecord(rec match.CollectionRecord) match.CollectionRecord {
	out := rec
	out.Fields = rec.Fields.Clone()
	if rec.MatchedFields != nil {
		out.MatchedFields = append([]match.FieldName(nil), rec.MatchedFields...)
	}
	return out
}
