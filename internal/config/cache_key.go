package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// LearnerTokensKey returns the cache key holding the backend token pair behind a proxy JWT.
func (r *CacheKeyStruct) LearnerTokensKey(jti string) string {
	return fmt.Sprintf("login:%s:tokens", jti)
}

// ExamSessionKey returns the cache key for a learner's exam session record (deadline, violations, status).
func (r *CacheKeyStruct) ExamSessionKey(learnerID, examID string) string {
	return fmt.Sprintf("learner:%s:exam:%s:session", learnerID, examID)
}

// ExamAnswersKey returns the cache key for a learner's persisted answer slots.
func (r *CacheKeyStruct) ExamAnswersKey(learnerID, examID string) string {
	return fmt.Sprintf("learner:%s:exam:%s:answers", learnerID, examID)
}

var CacheKey = NewCacheKeyStruct()
