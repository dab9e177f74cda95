package review

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

// merge runs inside the transaction. Therapies go first so that revenue and
// approval facts in the same payload can resolve against them.
func (e *Engine) merge(ctx context.Context, tx store.MergeTx, id, actor, notes string) (*model.MergeSummary, error) {
	ext, err := tx.LockExtraction(ctx, id)
	if err != nil {
		return nil, err
	}
	if ext.Review.Status != model.ReviewPending {
		return nil, apperr.Precondition("extraction %s is already %s", id, ext.Review.Status)
	}

	now := e.now()
	sum := &model.MergeSummary{ExtractionID: id}
	log := e.log.With(zap.String("extraction_id", id))

	for _, fact := range ext.Payload.Therapies {
		if err := e.mergeTherapy(ctx, tx, fact, now, sum); err != nil {
			return nil, err
		}
	}

	for _, fact := range ext.Payload.Revenues {
		therapy, err := resolveTherapy(ctx, tx, fact.TherapyID, fact.TherapyName)
		if err != nil {
			return nil, err
		}
		if therapy == nil {
			sum.RevenuesUnresolved++
			log.Warn("skipping revenue fact: therapy not found",
				zap.String("therapy_id", fact.TherapyID),
				zap.String("therapy_name", fact.TherapyName),
				zap.String("period", fact.Period),
			)
			continue
		}

		exists, err := tx.RevenueExists(ctx, therapy.ID, fact.Period, fact.Region)
		if err != nil {
			return nil, err
		}
		if exists {
			sum.RevenuesDuplicate++
			continue
		}

		if err := tx.InsertRevenue(ctx, &model.RevenueRecord{
			ID:                 e.newID(),
			TherapyID:          therapy.ID,
			Period:             fact.Period,
			Region:             fact.Region,
			RevenueMillionsUSD: fact.RevenueMillionsUSD,
			Sources:            fact.Sources,
			LastUpdated:        now,
		}); err != nil {
			return nil, err
		}
		sum.RevenuesInserted++
	}

	for _, fact := range ext.Payload.Approvals {
		therapy, err := resolveTherapy(ctx, tx, fact.TherapyID, fact.TherapyName)
		if err != nil {
			return nil, err
		}
		if therapy == nil || fact.DiseaseName == "" {
			sum.ApprovalsSkipped++
			log.Warn("skipping approval fact",
				zap.String("therapy_name", fact.TherapyName),
				zap.String("disease_name", fact.DiseaseName),
				zap.Bool("therapy_found", therapy != nil),
			)
			continue
		}

		disease, err := tx.FindDisease(ctx, fact.DiseaseName)
		if err != nil {
			return nil, err
		}
		if disease == nil {
			disease = &model.Disease{
				ID:          e.newID(),
				Name:        fact.DiseaseName,
				Category:    model.DefaultDiseaseCategory,
				Sources:     fact.Sources,
				LastUpdated: now,
			}
			if err := tx.InsertDisease(ctx, disease); err != nil {
				return nil, err
			}
			sum.DiseasesCreated++
		}

		// Approvals have no duplicate guard; re-approving similar payloads
		// adds rows.
		if err := tx.InsertApproval(ctx, &model.TherapyApproval{
			ID:           e.newID(),
			TherapyID:    therapy.ID,
			DiseaseID:    disease.ID,
			Region:       fact.Region,
			ApprovalDate: fact.ApprovalDate,
			ApprovalType: fact.ApprovalType,
			Sources:      fact.Sources,
			LastUpdated:  now,
		}); err != nil {
			return nil, err
		}
		sum.ApprovalsInserted++
	}

	ok, err := tx.MarkApproved(ctx, id, actor, notes, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Precondition("extraction %s is no longer pending", id)
	}
	return sum, nil
}

func (e *Engine) mergeTherapy(ctx context.Context, tx store.MergeTx, fact model.TherapyFact, now time.Time, sum *model.MergeSummary) error {
	if fact.Name == "" {
		e.log.Warn("skipping therapy fact without a name", zap.String("manufacturer", fact.Manufacturer))
		return nil
	}

	existing, err := tx.FindTherapy(ctx, fact.Name, fact.Manufacturer)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := tx.InsertTherapy(ctx, &model.Therapy{
			ID:              e.newID(),
			Name:            fact.Name,
			Manufacturer:    fact.Manufacturer,
			Mechanism:       fact.Mechanism,
			PricePerUnitUSD: fact.PricePerUnitUSD,
			Sources:         fact.Sources,
			LastUpdated:     now,
		}); err != nil {
			return err
		}
		sum.TherapiesCreated++
		return nil
	}

	if fact.Mechanism != "" {
		existing.Mechanism = fact.Mechanism
	}
	if fact.PricePerUnitUSD != nil {
		existing.PricePerUnitUSD = fact.PricePerUnitUSD
	}
	if len(fact.Sources) > 0 {
		existing.Sources = fact.Sources
	}
	existing.LastUpdated = now
	if err := tx.UpdateTherapy(ctx, existing); err != nil {
		return err
	}
	sum.TherapiesUpdated++
	return nil
}

// resolveTherapy prefers an explicit id and falls back to an exact name
// match. It returns nil when neither resolves.
func resolveTherapy(ctx context.Context, tx store.MergeTx, id, name string) (*model.Therapy, error) {
	if id != "" {
		t, err := tx.FindTherapyByID(ctx, id)
		if err != nil || t != nil {
			return t, err
		}
	}
	if name == "" {
		return nil, nil
	}
	return tx.FindTherapyByName(ctx, name)
}
