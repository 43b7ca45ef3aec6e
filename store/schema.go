package store

// Schema contains the complete DDL for the signet tables.
const Schema = `
-- Bookmarks: the user-facing saved links
CREATE TABLE IF NOT EXISTS bookmarks (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    url         TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    note        TEXT NOT NULL DEFAULT '',
    tags        TEXT NOT NULL DEFAULT '[]',
    project_id  TEXT NOT NULL DEFAULT '',
    task_id     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bookmarks_user ON bookmarks(user_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bookmarks_user_url ON bookmarks(user_id, url);
CREATE INDEX IF NOT EXISTS idx_bookmarks_project ON bookmarks(user_id, project_id) WHERE project_id != '';

-- Extractions: normalized content per bookmark, replaced on re-ingestion
CREATE TABLE IF NOT EXISTS extractions (
    bookmark_id    TEXT PRIMARY KEY,
    title          TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    headings       TEXT NOT NULL DEFAULT '[]',
    body           TEXT NOT NULL DEFAULT '',
    word_count     INTEGER NOT NULL DEFAULT 0,
    quality_score  INTEGER NOT NULL DEFAULT 0,
    low_confidence INTEGER NOT NULL DEFAULT 0,
    warnings       TEXT NOT NULL DEFAULT '[]',
    strategy       TEXT NOT NULL DEFAULT '',
    extracted_at   INTEGER NOT NULL,
    FOREIGN KEY (bookmark_id) REFERENCES bookmarks(id) ON DELETE CASCADE
);

-- Embeddings: one vector per bookmark per model generation
CREATE TABLE IF NOT EXISTS embeddings (
    bookmark_id   TEXT PRIMARY KEY,
    model_version TEXT NOT NULL,
    dimension     INTEGER NOT NULL,
    vector        BLOB NOT NULL,
    created_at    INTEGER NOT NULL,
    FOREIGN KEY (bookmark_id) REFERENCES bookmarks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_version);

-- Embedding usage: per-key daily and monthly call counters
CREATE TABLE IF NOT EXISTS embed_usage (
    fingerprint TEXT PRIMARY KEY,
    day         TEXT NOT NULL,
    day_count   INTEGER NOT NULL DEFAULT 0,
    month       TEXT NOT NULL,
    month_count INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL
);

-- User API keys: per-user embedding credentials, shared key as fallback
CREATE TABLE IF NOT EXISTS user_keys (
    user_id    TEXT PRIMARY KEY,
    api_key    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Business events: pipeline milestones for operational visibility
CREATE TABLE IF NOT EXISTS business_events (
    id         TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    user_id    TEXT NOT NULL DEFAULT '',
    subject_id TEXT NOT NULL DEFAULT '',
    detail     TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON business_events(event_type, created_at DESC);
`
