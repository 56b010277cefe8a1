package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"RoyRemind/models"

	"go.uber.org/zap"
)

// neutralRate stands in for a rate with no history behind it.
const neutralRate = 0.5

const (
	scoreResponseWeight = 0.7
	scoreDeliveryWeight = 0.3
)

type EngagementWeights struct {
	RiskResponse float64
	RiskNoShow   float64
}

// EngagementScorer derives a patient's engagement read-model from their communication log.
type EngagementScorer struct {
	weights EngagementWeights
	window  time.Duration
}

func NewEngagementScorer(weights EngagementWeights, window time.Duration) EngagementScorer {
	if weights.RiskResponse+weights.RiskNoShow <= 0 {
		weights = EngagementWeights{RiskResponse: 0.6, RiskNoShow: 0.4}
	}
	return EngagementScorer{weights: weights, window: window}
}

func (s EngagementScorer) Window() time.Duration {
	return s.window
}

// AttendanceHistory is the appointment side of the no-show risk.
type AttendanceHistory struct {
	Appointments int
	NoShows      int
}

// Score counts attempts queued inside the trailing window. Rates with a zero
// denominator fall back to neutral values.
func (s EngagementScorer) Score(patientID string, logs []models.CommunicationLog, history AttendanceHistory, now time.Time) models.EngagementScore {
	since := now.Add(-s.window)

	var sent, delivered, responded int
	for _, l := range logs {
		if l.PatientID != patientID || l.QueuedAt.Before(since) || l.QueuedAt.After(now) {
			continue
		}
		if l.SentAt == nil && !l.Status.CountsAsSent() {
			continue
		}
		sent++
		if l.DeliveredAt != nil || l.ReadAt != nil || l.Status == models.LogDelivered || l.Status == models.LogRead {
			delivered++
		}
		if l.RespondedAt != nil {
			responded++
		}
	}

	responseRate := ratio(responded, sent)
	deliveryRate := ratio(delivered, sent)
	noShowRate := ratio(history.NoShows, history.Appointments)

	w := s.weights
	risk := (w.RiskResponse*(1-responseRate) + w.RiskNoShow*noShowRate) / (w.RiskResponse + w.RiskNoShow)

	return models.EngagementScore{
		PatientID:    patientID,
		Score:        round3(clamp01(scoreResponseWeight*responseRate + scoreDeliveryWeight*deliveryRate)),
		ResponseRate: round3(responseRate),
		DeliveryRate: round3(deliveryRate),
		NoShowRisk:   round3(clamp01(risk)),
		Sent:         sent,
		Responded:    responded,
		NoShows:      history.NoShows,
		ComputedAt:   now,
	}
}

func ratio(n, d int) float64 {
	if d == 0 {
		return neutralRate
	}
	return float64(n) / float64(d)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// EngagementService persists scores computed by the scorer.
type EngagementService struct {
	stores Stores
	scorer EngagementScorer
	logger *zap.Logger
}

func NewEngagementService(stores Stores, scorer EngagementScorer, logger *zap.Logger) *EngagementService {
	return &EngagementService{stores: stores, scorer: scorer, logger: logger}
}

// Recompute rescores every patient with log activity in the trailing window.
func (s *EngagementService) Recompute(ctx context.Context, now time.Time) (int, error) {
	since := now.Add(-s.scorer.Window())
	logs, err := s.stores.Logs.ListLogsSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list communication logs: %w", err)
	}

	byPatient := make(map[string][]models.CommunicationLog)
	for _, l := range logs {
		byPatient[l.PatientID] = append(byPatient[l.PatientID], l)
	}
	patients := make([]string, 0, len(byPatient))
	for id := range byPatient {
		patients = append(patients, id)
	}
	sort.Strings(patients)

	updated := 0
	for _, id := range patients {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		score, err := s.score(ctx, id, byPatient[id], now)
		if err != nil {
			s.logger.Error("failed to score patient", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		if err := s.stores.Scores.UpsertScore(ctx, &score); err != nil {
			s.logger.Error("failed to save engagement score", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		updated++
	}
	s.logger.Info("engagement scores recomputed", zap.Int("patients", updated))
	return updated, nil
}

// Get returns the stored score, computing a fresh one when none has been stored yet.
func (s *EngagementService) Get(ctx context.Context, patientID string, now time.Time) (*models.EngagementScore, error) {
	stored, err := s.stores.Scores.GetScore(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}
	logs, err := s.stores.Logs.ListLogsByPatient(ctx, patientID, now.Add(-s.scorer.Window()))
	if err != nil {
		return nil, err
	}
	score, err := s.score(ctx, patientID, logs, now)
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (s *EngagementService) score(ctx context.Context, patientID string, logs []models.CommunicationLog, now time.Time) (models.EngagementScore, error) {
	total, noShows, err := s.stores.Appointments.AttendanceStats(ctx, patientID, now.Add(-s.scorer.Window()), now)
	if err != nil {
		return models.EngagementScore{}, err
	}
	return s.scorer.Score(patientID, logs, AttendanceHistory{Appointments: total, NoShows: noShows}, now), nil
}
