// ABOUTME: SQLite database schema for the ingestion and derived-knowledge pipeline
// ABOUTME: Uniqueness constraints here are the idempotency boundaries of every write
package sqlite

// Schema contains all SQL statements for database initialization
const Schema = `
-- Import executions
CREATE TABLE IF NOT EXISTS import_batches (
    id TEXT PRIMARY KEY,
    source_label TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    heartbeat_at DATETIME,
    completed_at DATETIME,
    processed_items INTEGER NOT NULL DEFAULT 0,
    total_items INTEGER NOT NULL DEFAULT 0,
    conversations_seen INTEGER NOT NULL DEFAULT 0,
    conversations_created INTEGER NOT NULL DEFAULT 0,
    messages_inserted INTEGER NOT NULL DEFAULT 0,
    artifact_failures INTEGER NOT NULL DEFAULT 0,
    error_message TEXT
);

-- Uploaded export files (bronze tier)
CREATE TABLE IF NOT EXISTS raw_artifacts (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    declared_type TEXT NOT NULL,
    byte_length INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    file_path TEXT,
    inline_payload BLOB,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_failures (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
    artifact_id TEXT NOT NULL REFERENCES raw_artifacts(id) ON DELETE CASCADE,
    entry_index INTEGER NOT NULL,
    message TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

-- Canonical conversations (silver tier)
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    conv_key TEXT NOT NULL UNIQUE,
    source_system TEXT NOT NULL,
    external_id TEXT,
    title TEXT,
    first_message_at DATETIME,
    last_message_at DATETIME,
    first_batch_id TEXT NOT NULL,
    last_batch_id TEXT NOT NULL,
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_artifacts (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    artifact_id TEXT NOT NULL REFERENCES raw_artifacts(id) ON DELETE CASCADE,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (conversation_id, artifact_id)
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    sequence_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    timestamp DATETIME,
    artifact_id TEXT REFERENCES raw_artifacts(id) ON DELETE SET NULL,
    UNIQUE (conversation_id, role, sequence_index, content_hash)
);

-- Derived computations (gold tier)
CREATE TABLE IF NOT EXISTS inference_runs (
    id TEXT PRIMARY KEY,
    run_type TEXT NOT NULL,
    model TEXT,
    model_version TEXT,
    scope TEXT,
    config_hash TEXT NOT NULL,
    config TEXT,
    status TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    metrics TEXT,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS conversation_segments (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    segment_index INTEGER NOT NULL,
    start_message INTEGER NOT NULL,
    end_message INTEGER NOT NULL,
    message_count INTEGER NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    run_id TEXT NOT NULL REFERENCES inference_runs(id),
    created_at DATETIME NOT NULL,
    UNIQUE (conversation_id, segment_index)
);

CREATE TABLE IF NOT EXISTS segment_embeddings (
    id TEXT PRIMARY KEY,
    segment_id TEXT NOT NULL REFERENCES conversation_segments(id) ON DELETE CASCADE,
    model TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    vector BLOB NOT NULL,
    source_hash TEXT NOT NULL,
    run_id TEXT REFERENCES inference_runs(id),
    created_at DATETIME NOT NULL,
    UNIQUE (segment_id, model)
);

CREATE TABLE IF NOT EXISTS project_suggestions (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES inference_runs(id),
    cluster_label INTEGER NOT NULL,
    name TEXT NOT NULL,
    suggestion_key TEXT NOT NULL,
    summary TEXT,
    confidence REAL NOT NULL,
    status TEXT NOT NULL,
    resolved_project_id TEXT,
    resolved_at DATETIME,
    conversation_ids TEXT NOT NULL,
    segment_ids TEXT NOT NULL,
    unique_conversations INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (run_id, cluster_label)
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    project_key TEXT NOT NULL,
    description TEXT,
    created_by_run_id TEXT,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS project_conversations (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    suggestion_id TEXT,
    run_id TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    is_current INTEGER NOT NULL DEFAULT 1,
    assigned_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_similarities (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES inference_runs(id),
    conversation_a TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    conversation_b TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    score REAL NOT NULL,
    method TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (run_id, conversation_a, conversation_b),
    CHECK (conversation_a < conversation_b)
);

CREATE TABLE IF NOT EXISTS project_drift_metrics (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES inference_runs(id),
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    window_start DATETIME NOT NULL,
    window_end DATETIME NOT NULL,
    conversation_count INTEGER NOT NULL,
    drift_score REAL NOT NULL,
    deltas TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

-- Indexes for efficient querying
CREATE INDEX IF NOT EXISTS idx_batches_status ON import_batches(status);
CREATE INDEX IF NOT EXISTS idx_artifacts_batch ON raw_artifacts(batch_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_file ON raw_artifacts(file_path);
CREATE INDEX IF NOT EXISTS idx_failures_batch ON artifact_failures(batch_id);
CREATE INDEX IF NOT EXISTS idx_conv_artifacts_artifact ON conversation_artifacts(artifact_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence_index);
CREATE INDEX IF NOT EXISTS idx_segments_conversation ON conversation_segments(conversation_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON segment_embeddings(model);
CREATE INDEX IF NOT EXISTS idx_runs_type ON inference_runs(run_type, status);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON project_suggestions(status);
CREATE INDEX IF NOT EXISTS idx_project_conv_project ON project_conversations(project_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_project_conv_current
    ON project_conversations(project_id, conversation_id) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_similarity_a ON conversation_similarities(conversation_a);
CREATE INDEX IF NOT EXISTS idx_similarity_b ON conversation_similarities(conversation_b);
CREATE INDEX IF NOT EXISTS idx_drift_project ON project_drift_metrics(project_id);
`

// SchemaVersion is the current schema version for migrations
const SchemaVersion = 1
