package store

// Schema contains the SQL schema for saved searches.
const Schema = `
CREATE TABLE IF NOT EXISTS saved_searches (
    name TEXT PRIMARY KEY,
    criteria TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
