package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/geoip"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/mssola/useragent"
)

// Weights are the fixed confidence contributions of each anomaly signal.
type Weights struct {
	NewCountry       float64
	NewRegion        float64
	NewDevice        float64
	ImpossibleTravel float64
	BotAgent         float64
	Threshold        float64
}

// DefaultWeights returns the production scoring weights.
func DefaultWeights() Weights {
	return Weights{
		NewCountry:       0.4,
		NewRegion:        0.2,
		NewDevice:        0.3,
		ImpossibleTravel: 0.5,
		BotAgent:         0.3,
		Threshold:        0.3,
	}
}

// travelWindow is how recently a success from another country must have
// happened for the jump to count as geographically impossible.
const travelWindow = time.Hour

// Assessment is the scorer's verdict on one successful password check.
type Assessment struct {
	Score     float64
	Reasons   []string
	Anomalous bool
	Location  geoip.Location
}

// Scorer compares a login against the subject's known history. Anomalies
// never block; they flag, notify and extend the known set.
type Scorer struct {
	locator geoip.Locator
	weights Weights
	logger  *slog.Logger
}

func NewScorer(locator geoip.Locator, weights Weights, logger *slog.Logger) *Scorer {
	return &Scorer{locator: locator, weights: weights, logger: logger}
}

// Assess scores the current attempt against the subject's successful
// history. An empty history establishes the baseline and never flags.
// An unknown location contributes nothing.
func (s *Scorer) Assess(ctx context.Context, history []models.LoginAttempt, client ClientContext, now time.Time) Assessment {
	location, err := s.locator.Locate(ctx, client.IPAddress)
	if err != nil {
		// Best-effort collaborator: failure degrades to unknown.
		s.logger.Warn("geolocation lookup failed", slog.Any("error", err))
		location = geoip.Location{}
	}

	assessment := Assessment{Location: location}
	if len(history) == 0 {
		return assessment
	}

	if !location.Unknown() {
		if !knownCountry(history, location.Country) {
			assessment.add(s.weights.NewCountry, "new_country")
		} else if !knownRegion(history, location) {
			assessment.add(s.weights.NewRegion, "new_region")
		}

		if impossibleTravel(history, location, now) {
			assessment.add(s.weights.ImpossibleTravel, "impossible_travel")
		}
	}

	if !knownDevice(history, client.DeviceFingerprint) {
		assessment.add(s.weights.NewDevice, "new_device")
	}

	if botAgent(client.UserAgent) {
		assessment.add(s.weights.BotAgent, "bot_agent")
	}

	assessment.Anomalous = assessment.Score >= s.weights.Threshold
	return assessment
}

func (a *Assessment) add(weight float64, reason string) {
	a.Score += weight
	a.Reasons = append(a.Reasons, reason)
}

func knownCountry(history []models.LoginAttempt, country string) bool {
	for _, h := range history {
		if h.Country == country {
			return true
		}
	}
	return false
}

func knownRegion(history []models.LoginAttempt, loc geoip.Location) bool {
	for _, h := range history {
		if h.Country == loc.Country && h.Region == loc.Region && h.City == loc.City {
			return true
		}
	}
	return false
}

func knownDevice(history []models.LoginAttempt, fingerprint string) bool {
	if fingerprint == "" {
		return true
	}
	for _, h := range history {
		if h.DeviceFingerprint == fingerprint {
			return true
		}
	}
	return false
}

// impossibleTravel reports whether the most recent located success came
// from a different country inside the travel window. History is newest
// first.
func impossibleTravel(history []models.LoginAttempt, loc geoip.Location, now time.Time) bool {
	for _, h := range history {
		if h.Country == "" {
			continue
		}
		return h.Country != loc.Country && now.Sub(h.AttemptTime) < travelWindow
	}
	return false
}

func botAgent(ua string) bool {
	if ua == "" {
		return true
	}
	return useragent.New(ua).Bot()
}
