package qa

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/chemkb/chemkb/internal/history"
)

// Normalize maps an answer outcome into an immutable history record.
// Failures become records too, with ResponseType "error" and confidence
// 0, so the caller has a single rendering path.
func Normalize(ans Answer, question string, tags []string, askErr error) history.Record {
	if tags == nil {
		tags = []string{}
	}

	rec := history.Record{
		ID:        uuid.NewString(),
		Question:  question,
		Tags:      tags,
		Timestamp: time.Now(),
	}

	if askErr != nil {
		rec.Answer = fmt.Sprintf("抱歉，处理您的问题时出现错误：%v", askErr)
		rec.ResponseType = "error"
		rec.Confidence = 0
		rec.ContextUsed = false
		return rec
	}

	rec.Answer = ans.Answer
	rec.ResponseType = ans.ResponseType
	rec.Confidence = confidenceFromQuality(ans.QualityAssessment.QualityScore)
	rec.RetrievalResults = ans.RetrievalResults
	rec.GenerationResults = ans.GenerationResults
	rec.QualityAssessment = ans.QualityAssessment
	rec.ContextUsed = ans.ContextUsed
	return rec
}

// confidenceFromQuality scales the 0-100 quality score by 1.2 and clamps
// the result back into [0,100].
func confidenceFromQuality(score int) int {
	confidence := int(math.Round(float64(score) * 1.2))
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return confidence
}
