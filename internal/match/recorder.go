package match

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProposalStore persists proposals. Implementations resolve concurrent
// writes to the same (source, reference) pair with conditional writes.
type ProposalStore interface {
	// UpsertProposal inserts the proposal or updates the existing row for the
	// same pair in place while it is not finalized. A finalized row is
	// returned unchanged.
	UpsertProposal(ctx context.Context, p Proposal) (Proposal, error)
	GetProposal(ctx context.Context, id string) (Proposal, error)
	ListProposals(ctx context.Context, sourceRecordID string) ([]Proposal, error)
	// WithinTx runs fn in one transaction; any error rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx ProposalTx) error) error
}

// ProposalTx is the transactional view used by apply and reject
type ProposalTx interface {
	LockProposal(ctx context.Context, id string) (Proposal, error)
	GetReference(ctx context.Context, id string) (ReferenceRecord, error)
	GetFields(ctx context.Context, recordID string) (CollectionRecord, error)
	SetFields(ctx context.Context, rec CollectionRecord) error
	// TransitionProposal moves the proposal to `to` only if its current
	// status is one of `from`. It reports whether a row changed.
	TransitionProposal(ctx context.Context, id string, from []ProposalStatus, to ProposalStatus, resolvedBy *string, at time.Time) (bool, error)
}

// Recorder owns the proposal lifecycle
type Recorder struct {
	store  ProposalStore
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a match recorder
func NewRecorder(store ProposalStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ProposalFromResult builds a pending proposal for a collection record
func ProposalFromResult(sourceRecordID string, r MatchResult) Proposal {
	return Proposal{
		SourceRecordID: sourceRecordID,
		ReferenceID:    r.ReferenceID,
		Score:          r.Score,
		Criteria:       r.Criteria,
		Status:         StatusPending,
	}
}

// Propose stores a proposal idempotently per (source, reference) pair
func (r *Recorder) Propose(ctx context.Context, p Proposal) (Proposal, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	stored, err := r.store.UpsertProposal(ctx, p)
	if err != nil {
		r.logger.Error("Failed to store match proposal",
			zap.String("source_record_id", p.SourceRecordID),
			zap.String("reference_id", p.ReferenceID),
			zap.Error(err))
		return Proposal{}, persistence("propose", err)
	}

	r.logger.Debug("Stored match proposal",
		zap.String("proposal_id", stored.ID),
		zap.String("status", string(stored.Status)),
		zap.Float64("score", stored.Score))
	return stored, nil
}

// Get returns a proposal by id
func (r *Recorder) Get(ctx context.Context, id string) (Proposal, error) {
	p, err := r.store.GetProposal(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Proposal{}, &NotFoundError{Kind: "proposal", ID: id}
		}
		return Proposal{}, persistence("get proposal", err)
	}
	return p, nil
}

// List returns every proposal recorded for a collection record
func (r *Recorder) List(ctx context.Context, sourceRecordID string) ([]Proposal, error) {
	ps, err := r.store.ListProposals(ctx, sourceRecordID)
	if err != nil {
		return nil, persistence("list proposals", err)
	}
	return ps, nil
}

// Apply copies the reference record into the collection record and confirms
// the proposal. Either everything is written or nothing is.
func (r *Recorder) Apply(ctx context.Context, id string, actor string) (Proposal, CollectionRecord, error) {
	return r.commit(ctx, id, actor, StatusConfirmed, []ProposalStatus{StatusPending, StatusAutoApplied})
}

// AutoApply is the policy path: same copy as Apply, status auto_applied.
// Callers decide eligibility; the recorder only enforces the transition. It
// never overwrites a record that already carries an applied match, whether a
// reviewer confirmed it or an earlier auto-apply committed it, and returns
// AutoApplySkippedError instead.
func (r *Recorder) AutoApply(ctx context.Context, id string) (Proposal, CollectionRecord, error) {
	return r.commit(ctx, id, "system", StatusAutoApplied, []ProposalStatus{StatusPending})
}

func (r *Recorder) commit(ctx context.Context, id, actor string, to ProposalStatus, from []ProposalStatus) (Proposal, CollectionRecord, error) {
	var (
		out Proposal
		rec CollectionRecord
	)

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx ProposalTx) error {
		p, err := lockProposal(ctx, tx, id)
		if err != nil {
			return err
		}
		if !allowed(p.Status, from) {
			if p.Status == StatusAutoApplied && to == StatusAutoApplied {
				return &AutoApplySkippedError{ProposalID: id, MatchedReferenceID: p.ReferenceID}
			}
			return &AlreadyFinalizedError{ProposalID: id, Status: p.Status}
		}

		ref, err := tx.GetReference(ctx, p.ReferenceID)
		if err != nil {
			return notFoundOr(err, "reference", p.ReferenceID, "get reference")
		}
		rec, err = tx.GetFields(ctx, p.SourceRecordID)
		if err != nil {
			return notFoundOr(err, "collection record", p.SourceRecordID, "get collection record")
		}
		if to == StatusAutoApplied && rec.MatchedReferenceID != "" {
			return &AutoApplySkippedError{ProposalID: id, MatchedReferenceID: rec.MatchedReferenceID}
		}

		rec = CopyReference(rec, ref)
		if err := tx.SetFields(ctx, rec); err != nil {
			return notFoundOr(err, "collection record", p.SourceRecordID, "set collection fields")
		}

		at := r.now()
		changed, err := tx.TransitionProposal(ctx, id, from, to, &actor, at)
		if err != nil {
			return persistence("transition proposal", err)
		}
		if !changed {
			// lost a race with another writer; roll back the copy
			current, err := lockProposal(ctx, tx, id)
			if err != nil {
				return err
			}
			return &AlreadyFinalizedError{ProposalID: id, Status: current.Status}
		}

		p.Status = to
		p.AutoApplied = p.AutoApplied || to == StatusAutoApplied
		p.UpdatedAt = at
		p.ResolvedAt = &at
		p.ResolvedBy = &actor
		out = p
		return nil
	})
	if err != nil {
		r.logFailure("apply", id, err)
		return Proposal{}, CollectionRecord{}, err
	}

	r.logger.Info("Applied match proposal",
		zap.String("proposal_id", id),
		zap.String("status", string(out.Status)),
		zap.String("collection_record_id", rec.ID),
		zap.Int("fields_copied", len(rec.MatchedFields)))
	return out, rec, nil
}

// Reject marks a proposal rejected. No data is copied but the row stays for audit.
func (r *Recorder) Reject(ctx context.Context, id string, actor string) (Proposal, error) {
	var out Proposal
	from := []ProposalStatus{StatusPending, StatusAutoApplied}

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx ProposalTx) error {
		p, err := lockProposal(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status.Finalized() {
			return &AlreadyFinalizedError{ProposalID: id, Status: p.Status}
		}

		at := r.now()
		changed, err := tx.TransitionProposal(ctx, id, from, StatusRejected, &actor, at)
		if err != nil {
			return persistence("transition proposal", err)
		}
		if !changed {
			current, err := lockProposal(ctx, tx, id)
			if err != nil {
				return err
			}
			return &AlreadyFinalizedError{ProposalID: id, Status: current.Status}
		}

		p.Status = StatusRejected
		p.UpdatedAt = at
		p.ResolvedAt = &at
		p.ResolvedBy = &actor
		out = p
		return nil
	})
	if err != nil {
		r.logFailure("reject", id, err)
		return Proposal{}, err
	}

	r.logger.Info("Rejected match proposal", zap.String("proposal_id", id), zap.String("actor", actor))
	return out, nil
}

// CopyReference writes every field the reference record knows into the
// collection record and records which fields were taken from it.
func CopyReference(rec CollectionRecord, ref ReferenceRecord) CollectionRecord {
	out := rec
	out.Fields = rec.Fields.Clone()
	src := ref.PropertyFields.Clone()
	var matched []FieldName

	copyString := func(dst *string, v string, field FieldName) {
		if present(v) {
			*dst = v
			matched = append(matched, field)
		}
	}

	copyString(&out.Fields.RegistrationCode, src.RegistrationCode, FieldRegistrationCode)
	copyString(&out.Fields.StreetName, src.StreetName, FieldStreetName)
	copyString(&out.Fields.StreetNumber, src.StreetNumber, FieldStreetNumber)
	copyString(&out.Fields.Complement, src.Complement, FieldComplement)
	copyString(&out.Fields.Neighborhood, src.Neighborhood, FieldNeighborhood)
	copyString(&out.Fields.UseCode, src.UseCode, FieldUseCode)
	copyString(&out.Fields.OwnerName, src.OwnerName, FieldOwnerName)
	copyString(&out.Fields.OwnerDocument, src.OwnerDocument, FieldOwnerDocument)

	if src.LotArea != nil {
		out.Fields.LotArea = src.LotArea
		matched = append(matched, FieldLotArea)
	}
	if src.BuiltArea != nil {
		out.Fields.BuiltArea = src.BuiltArea
		matched = append(matched, FieldBuiltArea)
	}
	if src.FloorCount != nil {
		out.Fields.FloorCount = src.FloorCount
		matched = append(matched, FieldFloorCount)
	}
	if src.HasLocation() {
		out.Fields.Latitude = src.Latitude
		out.Fields.Longitude = src.Longitude
		matched = append(matched, FieldLocation)
	}

	out.MatchedFields = matched
	out.MatchedReferenceID = ref.ID
	return out
}

func lockProposal(ctx context.Context, tx ProposalTx, id string) (Proposal, error) {
	p, err := tx.LockProposal(ctx, id)
	if err != nil {
		return Proposal{}, notFoundOr(err, "proposal", id, "lock proposal")
	}
	return p, nil
}

func notFoundOr(err error, kind, id, op string) error {
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return persistence(op, err)
}

func allowed(s ProposalStatus, from []ProposalStatus) bool {
	for _, f := range from {
		if s == f {
			return true
		}
	}
	return false
}

func (r *Recorder) logFailure(op, id string, err error) {
	var finalized *AlreadyFinalizedError
	var notFound *NotFoundError
	var skipped *AutoApplySkippedError
	switch {
	case errors.As(err, &skipped):
		r.logger.Info("Auto-apply skipped", zap.String("proposal_id", id), zap.Error(err))
	case errors.As(err, &finalized), errors.As(err, &notFound):
		r.logger.Warn("Match proposal "+op+" refused", zap.String("proposal_id", id), zap.Error(err))
	default:
		r.logger.Error("Match proposal "+op+" failed", zap.String("proposal_id", id), zap.Error(err))
	}
}
