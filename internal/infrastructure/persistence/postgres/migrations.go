// Package postgres implements the PostgreSQL persistence layer for the
// active learning engine.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create learning sessions table
-- Version: 001

CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    task_id VARCHAR(128) NOT NULL,
    status VARCHAR(10) NOT NULL DEFAULT 'open',
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL,
    closed_at TIMESTAMP WITH TIME ZONE,
    total_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    active_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    interactions INTEGER NOT NULL DEFAULT 0,
    quality_weight_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
    progress_units DOUBLE PRECISION NOT NULL DEFAULT 0,
    suspicious BOOLEAN NOT NULL DEFAULT FALSE,
    trailing_gaps_ms BIGINT[] NOT NULL DEFAULT '{}',
    quality VARCHAR(10) NOT NULL DEFAULT '',
    learning_velocity DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_session_status CHECK (status IN ('open', 'closed', 'expired')),
    CONSTRAINT active_within_total CHECK (active_minutes <= total_minutes + 0.000001)
);

-- One open session per (user, task); closed sessions are unconstrained.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_user_task
    ON sessions(user_id, task_id) WHERE status = 'open';

-- Idle-timeout sweep walks open sessions by last activity.
CREATE INDEX IF NOT EXISTS idx_sessions_open_idle
    ON sessions(last_activity_at) WHERE status = 'open';

-- Aggregation over finalized sessions within a window.
CREATE INDEX IF NOT EXISTS idx_sessions_user_closed
    ON sessions(user_id, closed_at DESC) WHERE status != 'open';
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE QUESTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create quest definitions and completions
-- Version: 002

CREATE TABLE IF NOT EXISTS quest_definitions (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    window_start TIMESTAMP WITH TIME ZONE NOT NULL,
    window_end TIMESTAMP WITH TIME ZONE NOT NULL,
    cohort_id VARCHAR(64) NOT NULL DEFAULT '',
    requirements JSONB NOT NULL,
    reward JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_window CHECK (window_end > window_start)
);

CREATE INDEX IF NOT EXISTS idx_quest_definitions_window
    ON quest_definitions(window_start, window_end);
CREATE INDEX IF NOT EXISTS idx_quest_definitions_cohort
    ON quest_definitions(cohort_id) WHERE cohort_id != '';

CREATE TABLE IF NOT EXISTS quest_completions (
    id VARCHAR(140) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    quest_id VARCHAR(64) NOT NULL REFERENCES quest_definitions(id),
    progress JSONB NOT NULL DEFAULT '{}'::jsonb,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    points_earned INTEGER NOT NULL DEFAULT 0,
    badges_earned TEXT[] NOT NULL DEFAULT '{}',
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_user_quest UNIQUE (user_id, quest_id)
);

CREATE INDEX IF NOT EXISTS idx_quest_completions_user
    ON quest_completions(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_quest_completions_completed
    ON quest_completions(user_id, completed_at) WHERE is_completed = TRUE;
CREATE INDEX IF NOT EXISTS idx_quest_completions_unarchived
    ON quest_completions(quest_id) WHERE archived = FALSE;
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE GRACE TOKENS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create grace token ledger
-- Version: 003

CREATE TABLE IF NOT EXISTS grace_tokens (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    token_type VARCHAR(30) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    quest_id VARCHAR(64) NOT NULL DEFAULT '',
    session_id VARCHAR(64) NOT NULL DEFAULT '',
    granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    used_at TIMESTAMP WITH TIME ZONE,
    consumption_reason TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_token_type CHECK (token_type IN
        ('session_extension', 'quest_retry', 'streak_save', 'quality_adjustment')),
    CONSTRAINT expires_after_grant CHECK (expires_at > granted_at)
);

-- Active-balance checks scan unused, unexpired tokens per user.
CREATE INDEX IF NOT EXISTS idx_grace_tokens_active
    ON grace_tokens(user_id, expires_at) WHERE used_at IS NULL;
`

