package session

// Weight is the interaction weight class assigned by the quality classifier.
// The numeric values (high=3, medium=2, low=1) feed the running quality sum;
// they never substitute for elapsed time in active-minute accrual.
type Weight float64

const (
	WeightLow    Weight = 1
	WeightMedium Weight = 2
	WeightHigh   Weight = 3
)

// Value returns the weight as a float64 multiplier.
func (w Weight) Value() float64 {
	return float64(w)
}

// Content-length thresholds for chat classification.
const (
	highTextThreshold   = 50
	mediumTextThreshold = 10
)

// Classify is a pure function from event kind + content feature to a weight
// class. Deterministic and side-effect free so the session engine stays
// testable. Code submissions and peer reviews are always high regardless of
// length; navigation is always low.
func Classify(kind EventKind, contentLength int) Weight {
	switch kind {
	case KindCodeSubmission, KindPeerReview:
		return WeightHigh
	case KindNavigation:
		return WeightLow
	case KindChatMessage:
		switch {
		case contentLength >= highTextThreshold:
			return WeightHigh
		case contentLength >= mediumTextThreshold:
			return WeightMedium
		default:
			return WeightLow
		}
	default:
		return WeightLow
	}
}

// QualityClass is the finalized classification of a whole session, derived
// from the average interaction weight over its active minutes.
type QualityClass string

const (
	QualityHigh   QualityClass = "high"
	QualityMedium QualityClass = "medium"
	QualityLow    QualityClass = "low"
)

// Quality band thresholds over the average weight.
const (
	highQualityBand   = 2.5
	mediumQualityBand = 1.5
)

// ClassifyAverage maps an average interaction weight onto a quality class.
// A session with no active minutes classifies low.
func ClassifyAverage(avgWeight float64) QualityClass {
	switch {
	case avgWeight >= highQualityBand:
		return QualityHigh
	case avgWeight >= mediumQualityBand:
		return QualityMedium
	default:
		return QualityLow
	}
}

// Score returns the numeric score of a quality class (high=3, medium=2, low=1),
// matching the weighting used when averaging session quality across sessions.
func (q QualityClass) Score() float64 {
	switch q {
	case QualityHigh:
		return 3
	case QualityMedium:
		return 2
	default:
		return 1
	}
}

// IsValid checks the class against the closed set.
func (q QualityClass) IsValid() bool {
	switch q {
	case QualityHigh, QualityMedium, QualityLow:
		return true
	}
	return false
}
