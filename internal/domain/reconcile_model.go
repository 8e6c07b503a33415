package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger-service/pkg/xerrors"
)

// RuleAction tells the matcher what to do with a hit.
type RuleAction string

const (
	ActionSuggest      RuleAction = "suggest"
	ActionAutoValidate RuleAction = "auto_validate"
	ActionWriteOff     RuleAction = "write_off"
)

// ToleranceKind bounds how far a candidate sum may drift from the
// statement amount.
type ToleranceKind string

const (
	ToleranceExact   ToleranceKind = "exact"
	TolerancePercent ToleranceKind = "percent"
	ToleranceFixed   ToleranceKind = "fixed"
)

// MatchPredicate filters which open items a model may propose. It is stored
// as JSON on the model row.
type MatchPredicate struct {
	PartnerRequired bool             `json:"partner_required,omitempty"`
	MatchReference  bool             `json:"match_reference,omitempty"`
	InternalTypes   []InternalType   `json:"internal_types,omitempty"`
	MinAmount       *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
}

// ReconcileModel is one row of the ordered rule list driving statement
// matching. Application is deterministic: models run by (sequence, id) and
// the first hit wins.
type ReconcileModel struct {
	ID                   int64           `json:"id"`
	Sequence             int             `json:"sequence"`
	Name                 string          `json:"name"`
	Predicate            MatchPredicate  `json:"match_predicate"`
	Action               RuleAction      `json:"action"`
	ToleranceKind        ToleranceKind   `json:"tolerance_kind"`
	ToleranceValue       decimal.Decimal `json:"tolerance_value"`
	CounterpartAccountID *int64          `json:"counterpart_account_id,omitempty"`
	WriteOffAccountID    *int64          `json:"write_off_account_id,omitempty"`
	WriteOffLabel        string          `json:"write_off_label,omitempty"`
	CreatedAt            time.Time       `json:"-"`
}

// CandidateKind describes what accepting a candidate will do.
type CandidateKind string

const (
	CandidateMatch    CandidateKind = "match"    // reconcile against existing open items
	CandidateWriteOff CandidateKind = "writeoff" // match plus a write-off for the remainder
	CandidateCreate   CandidateKind = "create"   // originate a counterpart move
)

// Candidate is one proposal for a statement line.
type Candidate struct {
	Kind                 CandidateKind   `json:"kind"`
	ModelID              int64           `json:"model_id"`
	AutoValidate         bool            `json:"auto_validate"`
	LineIDs              []int64         `json:"line_ids,omitempty"`
	Lines                []*MoveLine     `json:"-"`
	WriteOffAmount       decimal.Decimal `json:"write_off_amount"` // company currency, signed balance
	WriteOffAccountID    *int64          `json:"write_off_account_id,omitempty"`
	WriteOffLabel        string          `json:"write_off_label,omitempty"`
	CounterpartAccountID *int64          `json:"counterpart_account_id,omitempty"`
}

// WithinTolerance checks a candidate sum against the target amount.
func (m *ReconcileModel) WithinTolerance(target, sum decimal.Decimal, cur *Currency) bool {
	diff := sum.Sub(target).Abs()
	switch m.ToleranceKind {
	case TolerancePercent:
		return diff.Cmp(target.Abs().Mul(m.ToleranceValue).Div(decimal.NewFromInt(100))) <= 0
	case ToleranceFixed:
		return diff.Cmp(m.ToleranceValue) <= 0
	default:
		return cur.IsZero(diff)
	}
}

// ValidateCandidateAmount re-checks an accepted candidate against the current
// residuals of its open items. Residuals can move between propose and accept;
// a candidate whose numbers no longer hold must be rejected, not booked.
func (m *ReconcileModel) ValidateCandidateAmount(line *StatementLine, cand *Candidate, items []*MoveLine, cur *Currency) error {
	if cand.Kind == CandidateCreate {
		return nil
	}
	sum := decimal.Zero
	for _, l := range items {
		sum = sum.Add(l.AmountResidual.Abs())
	}
	// The write-off plug absorbs exactly the proposed remainder; whatever is
	// left must still sit inside the model's tolerance window.
	effective := sum.Sub(cand.WriteOffAmount)
	if !m.WithinTolerance(line.Amount.Abs(), effective, cur) {
		return xerrors.Wrap(xerrors.ErrAmountOutsideTolerance,
			"candidate sum %s does not cover statement amount %s within tolerance",
			effective.String(), line.Amount.Abs().String())
	}
	return nil
}

// referenceHit reports whether the open item's move name appears in the
// statement line's description or reference.
func referenceHit(line *StatementLine, moveName string) bool {
	if moveName == "" {
		return false
	}
	name := strings.ToUpper(moveName)
	return strings.Contains(strings.ToUpper(line.Name), name) ||
		strings.Contains(strings.ToUpper(line.Reference), name)
}

func (p *MatchPredicate) allowsAccount(l *MoveLine) bool {
	if len(p.InternalTypes) == 0 {
		return true
	}
	if l.Account == nil {
		return false
	}
	for _, t := range p.InternalTypes {
		if l.Account.InternalType == t {
			return true
		}
	}
	return false
}

// Match evaluates one model against a statement line and the open
// receivable/payable items of the same journal's company. moveNames maps a
// line id to the name of its move, for the text predicate.
func (m *ReconcileModel) Match(line *StatementLine, open []*MoveLine, moveNames map[int64]string, cur *Currency) (*Candidate, bool) {
	target := line.Amount.Abs()
	if m.Predicate.PartnerRequired && line.PartnerID == nil {
		return nil, false
	}
	if m.Predicate.MinAmount != nil && target.Cmp(*m.Predicate.MinAmount) < 0 {
		return nil, false
	}
	if m.Predicate.MaxAmount != nil && target.Cmp(*m.Predicate.MaxAmount) > 0 {
		return nil, false
	}

	// Money in settles open debits (customers paying); money out settles
	// open credits.
	wantDebit := line.Amount.IsPositive()
	var pool []*MoveLine
	for _, l := range open {
		if wantDebit && !l.AmountResidual.IsPositive() {
			continue
		}
		if !wantDebit && !l.AmountResidual.IsNegative() {
			continue
		}
		if !m.Predicate.allowsAccount(l) {
			continue
		}
		if line.PartnerID != nil && (l.PartnerID == nil || *l.PartnerID != *line.PartnerID) {
			continue
		}
		if m.Predicate.MatchReference && !referenceHit(line, moveNames[l.ID]) {
			continue
		}
		pool = append(pool, l)
	}

	if len(pool) == 0 {
		if m.CounterpartAccountID != nil {
			return &Candidate{
				Kind:                 CandidateCreate,
				ModelID:              m.ID,
				AutoValidate:         m.Action == ActionAutoValidate,
				CounterpartAccountID: m.CounterpartAccountID,
			}, true
		}
		return nil, false
	}

	sort.Slice(pool, func(i, j int) bool { return maturityKey(pool[i], pool[j]) })

	// Prefer a single item settling the full amount, then accumulate
	// oldest-first until the tolerance window is reached.
	for _, l := range pool {
		if m.WithinTolerance(target, l.AmountResidual.Abs(), cur) {
			return m.candidateFor(line, []*MoveLine{l}, target, cur)
		}
	}
	var picked []*MoveLine
	sum := decimal.Zero
	for _, l := range pool {
		picked = append(picked, l)
		sum = sum.Add(l.AmountResidual.Abs())
		if sum.Cmp(target) >= 0 || m.WithinTolerance(target, sum, cur) {
			break
		}
	}
	if !m.WithinTolerance(target, sum, cur) && m.Action != ActionWriteOff {
		return nil, false
	}
	return m.candidateFor(line, picked, target, cur)
}

func (m *ReconcileModel) candidateFor(line *StatementLine, picked []*MoveLine, target decimal.Decimal, cur *Currency) (*Candidate, bool) {
	sum := decimal.Zero
	ids := make([]int64, 0, len(picked))
	for _, l := range picked {
		sum = sum.Add(l.AmountResidual.Abs())
		ids = append(ids, l.ID)
	}
	cand := &Candidate{
		Kind:         CandidateMatch,
		ModelID:      m.ID,
		AutoValidate: m.Action == ActionAutoValidate,
		LineIDs:      ids,
		Lines:        picked,
	}
	remainder := sum.Sub(target)
	if !cur.IsZero(remainder) {
		if m.WriteOffAccountID == nil {
			return nil, false
		}
		cand.Kind = CandidateWriteOff
		cand.WriteOffAmount = remainder
		cand.WriteOffAccountID = m.WriteOffAccountID
		cand.WriteOffLabel = m.WriteOffLabel
	}
	return cand, true
}

// ProposeCandidate walks the ordered model list and returns the first hit.
// Equal sequences break ties on the lower id.
func ProposeCandidate(models []*ReconcileModel, line *StatementLine, open []*MoveLine, moveNames map[int64]string, cur *Currency) (*Candidate, error) {
	if line.State == StatementLineReconciled {
		return nil, xerrors.ErrLineAlreadyReconciled
	}
	ordered := make([]*ReconcileModel, len(models))
	copy(ordered, models)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Sequence != ordered[j].Sequence {
			return ordered[i].Sequence < ordered[j].Sequence
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, m := range ordered {
		if cand, ok := m.Match(line, open, moveNames, cur); ok {
			return cand, nil
		}
	}
	return nil, xerrors.ErrNoMatchingRule
}
