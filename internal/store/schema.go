package store

// schemaDDL creates the crawldb schema if it doesn't already exist. It is
// run once at startup; every statement is idempotent so repeated runs
// against a live database are harmless.
const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS crawldb;

CREATE TABLE IF NOT EXISTS crawldb.site (
	id               BIGSERIAL PRIMARY KEY,
	domain           TEXT UNIQUE NOT NULL,
	robots_content   TEXT,
	sitemap_content  TEXT,
	next_fetch_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS crawldb.page (
	id               BIGSERIAL PRIMARY KEY,
	site_id          BIGINT NOT NULL REFERENCES crawldb.site(id),
	url              TEXT UNIQUE NOT NULL,
	page_type_code   TEXT NOT NULL DEFAULT 'FRONTIER',
	http_status_code INTEGER,
	priority         DOUBLE PRECISION NOT NULL DEFAULT 0,
	html_content     TEXT,
	content_hash     VARCHAR(32),
	content_minhash  VARCHAR(2048),
	duplicate_id     BIGINT REFERENCES crawldb.page(id),
	accessed_time    TIMESTAMPTZ,
	created_time     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_page_type ON crawldb.page (page_type_code);
CREATE INDEX IF NOT EXISTS idx_page_content_hash ON crawldb.page (content_hash);
CREATE INDEX IF NOT EXISTS idx_page_content_minhash ON crawldb.page (content_minhash);

CREATE TABLE IF NOT EXISTS crawldb.link (
	from_page BIGINT NOT NULL REFERENCES crawldb.page(id),
	to_page   BIGINT NOT NULL REFERENCES crawldb.page(id),
	PRIMARY KEY (from_page, to_page)
);

CREATE TABLE IF NOT EXISTS crawldb.image (
	id            BIGSERIAL PRIMARY KEY,
	page_id       BIGINT NOT NULL REFERENCES crawldb.page(id),
	filename      TEXT NOT NULL,
	content_type  TEXT,
	data          BYTEA,
	accessed_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS crawldb.data_type (
	code TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS crawldb.page_data (
	id             BIGSERIAL PRIMARY KEY,
	page_id        BIGINT NOT NULL REFERENCES crawldb.page(id),
	data_type_code TEXT NOT NULL REFERENCES crawldb.data_type(code),
	data           BYTEA NOT NULL,
	created_time   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
