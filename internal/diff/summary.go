package diff

// Severity is the bucket a classifier assigns to a change
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityNone     Severity = "none"
)

// Classifier buckets changes by severity. Implementations live outside
// the engine; it only guarantees a stable Kind and Similarity.
type Classifier interface {
	Classify(c Change) Severity
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(c Change) Severity

// Classify calls f(c)
func (f ClassifierFunc) Classify(c Change) Severity { return f(c) }

// KindClassifier buckets purely on kind and the semantic-shift flag.
type KindClassifier struct{}

// Classify implements Classifier
func (KindClassifier) Classify(c Change) Severity {
	switch c.Kind {
	case KindUnchanged:
		return SeverityNone
	case KindModified:
		if c.SemanticShift {
			return SeverityCritical
		}
		return SeverityMajor
	case KindAdded, KindDeleted:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// Summary aggregates a change list
type Summary struct {
	TotalChanges    int     `json:"total_changes"`
	CriticalChanges int     `json:"critical_changes"`
	MajorChanges    int     `json:"major_changes"`
	MinorChanges    int     `json:"minor_changes"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Summarize counts non-unchanged changes per severity and computes the
// document similarity as 2*matched/(original+modified) segments.
func Summarize(changes []Change, classifier Classifier) Summary {
	var s Summary
	var n, m int
	var matched float64

	for _, c := range changes {
		if c.OriginalIndex != nil {
			n++
		}
		if c.ModifiedIndex != nil {
			m++
		}
		if c.OriginalIndex != nil && c.ModifiedIndex != nil {
			matched += c.Similarity
		}
		if c.Kind == KindUnchanged {
			continue
		}
		s.TotalChanges++
		switch classifier.Classify(c) {
		case SeverityCritical:
			s.CriticalChanges++
		case SeverityMajor:
			s.MajorChanges++
		case SeverityMinor:
			s.MinorChanges++
		}
	}

	if n+m == 0 {
		s.SimilarityScore = 1
	} else {
		s.SimilarityScore = round3(2 * matched / float64(n+m))
	}
	return s
}
