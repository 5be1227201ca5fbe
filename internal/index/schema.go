package index

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL,
	kind         TEXT NOT NULL DEFAULT 'markdown',
	filename     TEXT NOT NULL,
	path         TEXT NOT NULL,
	size         INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	file_mtime   INTEGER NOT NULL DEFAULT 0,
	created      INTEGER NOT NULL,
	updated      INTEGER NOT NULL,
	archived     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(type, filename)
);

CREATE INDEX IF NOT EXISTS idx_notes_type    ON notes(type);
CREATE INDEX IF NOT EXISTS idx_notes_path    ON notes(path);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated);

CREATE TABLE IF NOT EXISTS note_metadata (
	note_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	value_type TEXT NOT NULL DEFAULT 'string',
	PRIMARY KEY (note_id, key)
);

CREATE INDEX IF NOT EXISTS idx_metadata_key       ON note_metadata(key);
CREATE INDEX IF NOT EXISTS idx_metadata_key_value ON note_metadata(key, value);

CREATE TABLE IF NOT EXISTS note_hierarchy (
	parent_id TEXT NOT NULL,
	child_id  TEXT NOT NULL,
	position  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (parent_id, child_id)
);

CREATE INDEX IF NOT EXISTS idx_hierarchy_child ON note_hierarchy(child_id);

CREATE TABLE IF NOT EXISTS note_links (
	source_id         TEXT NOT NULL,
	target_id         TEXT,
	unresolved_target TEXT,
	relationship      TEXT NOT NULL DEFAULT 'references',
	display_text      TEXT NOT NULL DEFAULT '',
	position          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_links_source ON note_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON note_links(target_id);
`
