package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		kind   EventKind
		length int
		want   Weight
	}{
		{"long chat is high", KindChatMessage, 80, WeightHigh},
		{"boundary 50 chars is high", KindChatMessage, 50, WeightHigh},
		{"medium chat", KindChatMessage, 25, WeightMedium},
		{"boundary 10 chars is medium", KindChatMessage, 10, WeightMedium},
		{"short chat is low", KindChatMessage, 5, WeightLow},
		{"empty chat is low", KindChatMessage, 0, WeightLow},
		{"code submission always high", KindCodeSubmission, 0, WeightHigh},
		{"peer review always high", KindPeerReview, 3, WeightHigh},
		{"navigation always low", KindNavigation, 500, WeightLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.kind, tt.length))
		})
	}
}

func TestClassifyAverage(t *testing.T) {
	assert.Equal(t, QualityHigh, ClassifyAverage(3.0))
	assert.Equal(t, QualityHigh, ClassifyAverage(2.5))
	assert.Equal(t, QualityMedium, ClassifyAverage(2.0))
	assert.Equal(t, QualityMedium, ClassifyAverage(1.5))
	assert.Equal(t, QualityLow, ClassifyAverage(1.0))
	assert.Equal(t, QualityLow, ClassifyAverage(0))
}

func TestAggregateQualityAverage(t *testing.T) {
	agg := Aggregate{QualitySamples: []float64{3, 1, 2}}

	// (3+1+2)/3 = 2.0 -> 0.666...
	assert.InDelta(t, 2.0/3.0, agg.QualityAverage(false), 1e-9)

	// Dropping the worst sample: (3+2)/2 = 2.5 -> 0.8333...
	assert.InDelta(t, 2.5/3.0, agg.QualityAverage(true), 1e-9)

	// A single sample is never dropped.
	one := Aggregate{QualitySamples: []float64{1}}
	assert.InDelta(t, 1.0/3.0, one.QualityAverage(true), 1e-9)

	assert.Zero(t, Aggregate{}.QualityAverage(false))
}
