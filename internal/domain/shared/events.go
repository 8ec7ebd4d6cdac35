// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Session writes emit metric deltas; the quest evaluator and leaderboard
// aggregator subscribe rather than being called back directly.
const (
	// Session events
	EventSessionOpened  EventType = "session.opened"
	EventSessionClosed  EventType = "session.closed"
	EventSessionExpired EventType = "session.expired"
	EventSessionFlagged EventType = "session.flagged"

	// Quest events
	EventQuestPublished EventType = "quest.published"
	EventQuestProgress  EventType = "quest.progress_updated"
	EventQuestCompleted EventType = "quest.completed"

	// Grace token events
	EventTokenGranted  EventType = "token.granted"
	EventTokenConsumed EventType = "token.consumed"

	// Leaderboard events
	EventLeaderboardInvalidated EventType = "leaderboard.invalidated"
	EventLeaderboardRecomputed  EventType = "leaderboard.recomputed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// MetricDelta describes the change a finalized session contributes to a
// user's accumulated metrics. It is the single currency between the session
// tracker and its downstream consumers.
type MetricDelta struct {
	UserID         string    `json:"user_id"`
	TaskID         string    `json:"task_id"`
	SessionID      string    `json:"session_id"`
	ActiveMinutes  float64   `json:"active_minutes"`
	TotalMinutes   float64   `json:"total_minutes"`
	QualityWeight  float64   `json:"quality_weight"` // average weight over active minutes, 0 if none
	QualityClass   string    `json:"quality_class"`
	Interactions   int       `json:"interactions"`
	Suspicious     bool      `json:"suspicious"`
	ActivityDay    time.Time `json:"activity_day"` // midnight UTC of the session close day
	ClosedAt       time.Time `json:"closed_at"`
}

// SessionOpenedEvent is emitted when a new session starts.
type SessionOpenedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
}

// Payload implements Event interface.
func (e SessionOpenedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"task_id":    e.TaskID,
		"session_id": e.SessionID,
	}
}

// NewSessionOpenedEvent creates a new SessionOpenedEvent.
func NewSessionOpenedEvent(userID, taskID, sessionID string) SessionOpenedEvent {
	return SessionOpenedEvent{
		BaseEvent: NewBaseEvent(EventSessionOpened, sessionID),
		UserID:    userID,
		TaskID:    taskID,
		SessionID: sessionID,
	}
}

// SessionClosedEvent is emitted when a session is finalized, either by an
// explicit close or by the idle-timeout sweep.
type SessionClosedEvent struct {
	BaseEvent
	Delta   MetricDelta `json:"delta"`
	Expired bool        `json:"expired"` // true when closed by the idle sweep
}

// Payload implements Event interface.
func (e SessionClosedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.Delta.UserID,
		"task_id":        e.Delta.TaskID,
		"session_id":     e.Delta.SessionID,
		"active_minutes": e.Delta.ActiveMinutes,
		"total_minutes":  e.Delta.TotalMinutes,
		"quality_class":  e.Delta.QualityClass,
		"expired":        e.Expired,
	}
}

// NewSessionClosedEvent creates a new SessionClosedEvent.
func NewSessionClosedEvent(delta MetricDelta, expired bool) SessionClosedEvent {
	typ := EventSessionClosed
	if expired {
		typ = EventSessionExpired
	}
	return SessionClosedEvent{
		BaseEvent: NewBaseEvent(typ, delta.SessionID),
		Delta:     delta,
		Expired:   expired,
	}
}

// SessionFlaggedEvent is emitted when the pattern guard flags a session as
// suspicious. Flagged sessions are surfaced for review, not auto-penalized
// beyond the halved accrual rate.
type SessionFlaggedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e SessionFlaggedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"reason":     e.Reason,
	}
}

// NewSessionFlaggedEvent creates a new SessionFlaggedEvent.
func NewSessionFlaggedEvent(userID, sessionID, reason string) SessionFlaggedEvent {
	return SessionFlaggedEvent{
		BaseEvent: NewBaseEvent(EventSessionFlagged, sessionID),
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
	}
}

// QuestPublishedEvent is emitted when a quest definition is published.
type QuestPublishedEvent struct {
	BaseEvent
	QuestID     string    `json:"quest_id"`
	Name        string    `json:"name"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Payload implements Event interface.
func (e QuestPublishedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"quest_id":     e.QuestID,
		"name":         e.Name,
		"window_start": e.WindowStart,
		"window_end":   e.WindowEnd,
	}
}

// NewQuestPublishedEvent creates a new QuestPublishedEvent.
func NewQuestPublishedEvent(questID, name string, start, end time.Time) QuestPublishedEvent {
	return QuestPublishedEvent{
		BaseEvent:   NewBaseEvent(EventQuestPublished, questID),
		QuestID:     questID,
		Name:        name,
		WindowStart: start,
		WindowEnd:   end,
	}
}

// QuestCompletedEvent is emitted exactly once when a user completes a quest.
type QuestCompletedEvent struct {
	BaseEvent
	UserID       string   `json:"user_id"`
	QuestID      string   `json:"quest_id"`
	Points       int      `json:"points"`
	Badges       []string `json:"badges"`
	GraceTokens  int      `json:"grace_tokens"`
	BoostFactor  float64  `json:"boost_factor"`
}

// Payload implements Event interface.
func (e QuestCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"quest_id":     e.QuestID,
		"points":       e.Points,
		"badges":       e.Badges,
		"grace_tokens": e.GraceTokens,
		"boost_factor": e.BoostFactor,
	}
}

// NewQuestCompletedEvent creates a new QuestCompletedEvent.
func NewQuestCompletedEvent(userID, questID string, points int, badges []string, tokens int, boost float64) QuestCompletedEvent {
	return QuestCompletedEvent{
		BaseEvent:   NewBaseEvent(EventQuestCompleted, questID),
		UserID:      userID,
		QuestID:     questID,
		Points:      points,
		Badges:      badges,
		GraceTokens: tokens,
		BoostFactor: boost,
	}
}

// TokenGrantedEvent is emitted when a grace token enters the ledger.
type TokenGrantedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	TokenID   string `json:"token_id"`
	TokenType string `json:"token_type"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e TokenGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"token_id":   e.TokenID,
		"token_type": e.TokenType,
		"reason":     e.Reason,
	}
}

// NewTokenGrantedEvent creates a new TokenGrantedEvent.
func NewTokenGrantedEvent(userID, tokenID, tokenType, reason string) TokenGrantedEvent {
	return TokenGrantedEvent{
		BaseEvent: NewBaseEvent(EventTokenGranted, tokenID),
		UserID:    userID,
		TokenID:   tokenID,
		TokenType: tokenType,
		Reason:    reason,
	}
}

// TokenConsumedEvent is emitted when a grace token is consumed.
type TokenConsumedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	TokenID   string `json:"token_id"`
	TokenType string `json:"token_type"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e TokenConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"token_id":   e.TokenID,
		"token_type": e.TokenType,
		"reason":     e.Reason,
	}
}

// NewTokenConsumedEvent creates a new TokenConsumedEvent.
func NewTokenConsumedEvent(userID, tokenID, tokenType, reason string) TokenConsumedEvent {
	return TokenConsumedEvent{
		BaseEvent: NewBaseEvent(EventTokenConsumed, tokenID),
		UserID:    userID,
		TokenID:   tokenID,
		TokenType: tokenType,
		Reason:    reason,
	}
}

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
