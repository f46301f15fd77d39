package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// QuestionSetPayloadKey returns the cache key for a question set's client-safe payload
func (r *CacheKeyStruct) QuestionSetPayloadKey(questionSetID string) string {
	return fmt.Sprintf("questionset:%s:payload", questionSetID)
}

// QuestionSetAnswerKey returns the cache key for a question set's answer key hash
func (r *CacheKeyStruct) QuestionSetAnswerKey(questionSetID string) string {
	return fmt.Sprintf("questionset:%s:key", questionSetID)
}

// SessionLockKey returns the key guarding mutations of one session
func (r *CacheKeyStruct) SessionLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:lock", sessionID)
}

// SessionProgressKey returns the key of a session's hot progress snapshot
func (r *CacheKeyStruct) SessionProgressKey(sessionID string) string {
	return fmt.Sprintf("session:%s:progress", sessionID)
}

// ProgressPointerKey maps a progress key (email or session) to its session id
func (r *CacheKeyStruct) ProgressPointerKey(progressKey string) string {
	return fmt.Sprintf("progress:%s:session", progressKey)
}

// ProgressTombstoneKey records when a progress key was explicitly deleted
func (r *CacheKeyStruct) ProgressTombstoneKey(progressKey string) string {
	return fmt.Sprintf("progress:%s:deleted_at", progressKey)
}

// SessionDeadlinesKey is the sorted set of active sessions scored by deadline
func (r *CacheKeyStruct) SessionDeadlinesKey() string {
	return "sessions:deadlines"
}

// QuestionSetMonitorChannel returns the Redis PubSub channel name for a question set monitor
func (r *CacheKeyStruct) QuestionSetMonitorChannel(questionSetID string) string {
	return fmt.Sprintf("questionset:%s:monitor", questionSetID)
}

// RateLimitKey returns the counter key for one client in one window
func (r *CacheKeyStruct) RateLimitKey(clientIP string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", clientIP, window)
}

var CacheKey = NewCacheKeyStruct()
