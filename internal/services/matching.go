package services

import "github.com/tasklink/backend/internal/models"

// Scoring weights for the advisory offer fit score.
const (
	weightRating     = 0.45
	weightExperience = 0.35
	weightPrice      = 0.20
)

// experienceSaturation is the completed-task count at which the experience
// component reaches half weight.
const experienceSaturation = 10

// matchScore rates how well an offer fits a task, 0 to 1. It blends the
// offeror's rating, their completed-task count, and how far the asked price
// undercuts the escrowed budget. The score is advisory: the poster sees it
// when comparing offers, but acceptance and payout never consult it.
func matchScore(offeror *models.Account, price, budget int64) float32 {
	ratingNorm := float64(offeror.Rating) / 5.0
	if ratingNorm < 0 {
		ratingNorm = 0
	}
	if ratingNorm > 1 {
		ratingNorm = 1
	}

	done := float64(offeror.TasksCompleted)
	experienceNorm := done / (done + experienceSaturation)

	priceNorm := 0.0
	if budget > 0 && price < budget {
		priceNorm = 1.0 - float64(price)/float64(budget)
	}

	return float32(ratingNorm*weightRating + experienceNorm*weightExperience + priceNorm*weightPrice)
}
