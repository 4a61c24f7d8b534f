package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/merging"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/suppression"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	ReasonDuplicate         = "duplicate lead"
	ReasonSuppressionFailed = "suppression check failed"
)

// Outreach decides which leads may be contacted
type Outreach struct {
	grouper     *matching.Grouper
	selector    *merging.Selector
	suppression *suppression.Service
	logger      ectologger.Logger
}

// NewOutreach groups leads with config using the outreach weights, which ignore value
func NewOutreach(config matching.GrouperConfig, selector *merging.Selector, suppression *suppression.Service, logger ectologger.Logger) *Outreach {
	config.Weights = matching.OutreachWeights()
	return &Outreach{
		grouper:     matching.NewGrouper(config, logger),
		selector:    selector,
		suppression: suppression,
		logger:      logger,
	}
}

// Eligible returns one decision per lead in input order. Only the canonical lead of each
// duplicate group can be contactable, and only when no contact key of any group member is
// suppressed.
// A failed suppression lookup makes the lead not contactable.
func (o *Outreach) Eligible(ctx context.Context, leads []models.Record) ([]models.LeadDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Outreach.Eligible")
	defer span.End()

	decisions := make([]models.LeadDecision, len(leads))
	grouped := o.grouper.Group(ctx, leads)

	for _, g := range grouped.Groups {
		selection, err := o.selector.Select(ctx, g.Members)
		if err != nil {
			return nil, err
		}

		for k, idx := range g.Indexes {
			member := selection.Members[k]
			if k != selection.CanonicalIndex() {
				decisions[idx] = models.LeadDecision{Record: member, Reason: ReasonDuplicate}
				continue
			}
			decisions[idx] = o.decide(ctx, k, selection.Members)
		}
	}
	return decisions, nil
}

func leadContact(lead models.Record) models.Contact {
	contact := models.Contact{Company: lead.Title}
	if lead.ContactEmail != nil {
		contact.Email = *lead.ContactEmail
	}
	return contact
}

// decide checks the contact keys of every member of the group, the canonical lead's first,
// so a suppressed duplicate suppresses its canonical lead too
func (o *Outreach) decide(ctx context.Context, canonical int, group []models.Record) models.LeadDecision {
	lead := group[canonical]
	order := make([]int, 0, len(group))
	order = append(order, canonical)
	for i := range group {
		if i != canonical {
			order = append(order, i)
		}
	}

	for _, i := range order {
		res, err := o.suppression.Check(ctx, leadContact(group[i]))
		if err != nil {
			o.logger.WithContext(ctx).WithError(err).WithField("record_id", lead.ID).Warn("Suppression check failed, lead not contactable")
			return models.LeadDecision{Record: lead, Reason: ReasonSuppressionFailed}
		}
		if res.Suppressed {
			return models.LeadDecision{Record: lead, Reason: res.Reason}
		}
	}
	return models.LeadDecision{Record: lead, Contactable: true}
}
