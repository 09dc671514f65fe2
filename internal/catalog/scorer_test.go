package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"partnerscope/internal/models"
)

func roboticsProfile() models.StartupProfile {
	return models.StartupProfile{
		CompanyName:  "AssemblyAI KK",
		Industry:     "Robotics",
		PartnerNeeds: "manufacturing automation distribution partner",
		Keywords:     []string{"robotics", "automation"},
	}
}

func TestLexicalScorerStrongMatch(t *testing.T) {
	scorer := NewLexicalScorer()
	company := Company{
		Name: "Sakura Robotics",
		Info: models.CandidateInfo{
			Industry:     "Robotics",
			Description:  "Collaborative robotics and automation cells for manufacturing lines",
			FundingTotal: "$65M",
		},
		Keywords: []string{"robotics", "automation", "manufacturing"},
	}

	match := scorer.Score(roboticsProfile(), company)
	assert.GreaterOrEqual(t, match.MatchScore, 70.0)
	assert.Equal(t, "pursue", match.RecommendedAction)
	assert.NotEmpty(t, match.KeyStrengths)
}

func TestLexicalScorerWeakMatch(t *testing.T) {
	scorer := NewLexicalScorer()
	company := Company{
		Name: "Latte Artisans",
		Info: models.CandidateInfo{
			Industry:    "Food & Beverage",
			Description: "Specialty coffee roasting subscriptions",
		},
	}

	match := scorer.Score(roboticsProfile(), company)
	assert.Less(t, match.MatchScore, 45.0)
	assert.Equal(t, "deprioritize", match.RecommendedAction)
	assert.NotEmpty(t, match.PotentialConcerns)
}

func TestLexicalScorerBoundsAndNeutrals(t *testing.T) {
	scorer := NewLexicalScorer()

	// Empty profile terms land on the neutral band.
	match := scorer.Score(models.StartupProfile{}, Company{Name: "Anything"})
	assert.GreaterOrEqual(t, match.MatchScore, 0.0)
	assert.LessOrEqual(t, match.MatchScore, 100.0)

	assert.Equal(t, 100, scorer.industryFit("Robotics", "robotics"))
	assert.Equal(t, 85, scorer.industryFit("Robotics", "Industrial Robotics"))
	assert.Equal(t, 30, scorer.industryFit("Robotics", "Insurance"))
	assert.Equal(t, 50, scorer.industryFit("", "Insurance"))
}
