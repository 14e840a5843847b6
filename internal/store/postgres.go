package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresStore is the production Store adapter. It speaks directly to a
// crawldb schema, creating it on first connect if absent.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn and ensures the crawldb schema exists.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &StoreError{Message: dsn, Retryable: false, Cause: ErrCauseConnection, Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &StoreError{Message: "ping failed", Retryable: true, Cause: ErrCauseConnection, Err: err}
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, &StoreError{Message: "schema init", Retryable: false, Cause: ErrCauseSchema, Err: err}
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func hostOf(target url.URL) string {
	return fmt.Sprintf("%s://%s", target.Scheme, target.Host)
}

func (s *PostgresStore) UpsertSite(host string, robotsContent, sitemapContent *string) (int64, error) {
	var siteID int64
	err := s.db.QueryRow(`SELECT id FROM crawldb.site WHERE domain = $1`, host).Scan(&siteID)
	switch {
	case err == sql.ErrNoRows:
		err = s.db.QueryRow(
			`INSERT INTO crawldb.site (domain, robots_content, sitemap_content) VALUES ($1, $2, $3) RETURNING id`,
			host, robotsContent, sitemapContent,
		).Scan(&siteID)
		if err != nil {
			return 0, &StoreError{Message: host, Retryable: true, Cause: ErrCauseQuery, Err: err}
		}
		return siteID, nil
	case err != nil:
		return 0, &StoreError{Message: host, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}

	if robotsContent != nil || sitemapContent != nil {
		_, err = s.db.Exec(
			`UPDATE crawldb.site SET
				robots_content = COALESCE($2, robots_content),
				sitemap_content = COALESCE($3, sitemap_content)
			WHERE id = $1`,
			siteID, robotsContent, sitemapContent,
		)
		if err != nil {
			return 0, &StoreError{Message: host, Retryable: true, Cause: ErrCauseQuery, Err: err}
		}
	}
	return siteID, nil
}

func (s *PostgresStore) AddFrontier(target url.URL, priority float64) (bool, error) {
	raw := target.String()

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM crawldb.page WHERE url = $1`, raw).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}

	siteID, err := s.UpsertSite(hostOf(target), nil, nil)
	if err != nil {
		return false, err
	}

	_, err = s.db.Exec(
		`INSERT INTO crawldb.page (site_id, url, page_type_code, priority) VALUES ($1, $2, 'FRONTIER', $3)`,
		siteID, raw, priority,
	)
	if err != nil {
		return false, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return true, nil
}

func (s *PostgresStore) NextFrontier(keywords []string) (string, error) {
	if len(keywords) > 0 {
		conditions := make([]string, 0, len(keywords))
		args := make([]interface{}, 0, len(keywords))
		for i, kw := range keywords {
			if kw == "" {
				continue
			}
			conditions = append(conditions, fmt.Sprintf("url ILIKE $%d", i+1))
			args = append(args, "%"+kw+"%")
		}
		if len(conditions) > 0 {
			query := fmt.Sprintf(
				`SELECT url FROM crawldb.page WHERE page_type_code = 'FRONTIER' AND (%s) ORDER BY priority ASC, id ASC LIMIT 1`,
				strings.Join(conditions, " OR "),
			)
			var found string
			err := s.db.QueryRow(query, args...).Scan(&found)
			if err == nil {
				return found, nil
			}
			if err != sql.ErrNoRows {
				return "", &StoreError{Message: "preferential select", Retryable: true, Cause: ErrCauseQuery, Err: err}
			}
		}
	}

	var found string
	err := s.db.QueryRow(
		`SELECT url FROM crawldb.page WHERE page_type_code = 'FRONTIER' ORDER BY priority ASC, id ASC LIMIT 1`,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &StoreError{Message: "select", Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return found, nil
}

func (s *PostgresStore) MarkProcessing(target url.URL) error {
	_, err := s.db.Exec(`UPDATE crawldb.page SET accessed_time = NOW() WHERE url = $1`, target.String())
	if err != nil {
		return &StoreError{Message: target.String(), Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return nil
}

func (s *PostgresStore) UpdatePage(target url.URL, body []byte, status int, pageType PageType) (int64, error) {
	raw := target.String()
	var pageID int64
	err := s.db.QueryRow(
		`UPDATE crawldb.page
			SET html_content = $1, http_status_code = $2, page_type_code = $3, accessed_time = NOW()
		WHERE url = $4 AND page_type_code != 'DUPLICATE'
		RETURNING id`,
		string(body), status, string(pageType), raw,
	).Scan(&pageID)
	if err == sql.ErrNoRows {
		err = s.db.QueryRow(`SELECT id FROM crawldb.page WHERE url = $1`, raw).Scan(&pageID)
		if err != nil {
			return 0, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
		}
		return pageID, nil
	}
	if err != nil {
		return 0, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return pageID, nil
}

func (s *PostgresStore) UpdatePageWithHashes(target url.URL, body []byte, status int, contentHash string, minhash string) (int64, error) {
	raw := target.String()

	var pageID int64
	var pageType string
	err := s.db.QueryRow(`SELECT id, page_type_code FROM crawldb.page WHERE url = $1`, raw).Scan(&pageID, &pageType)
	switch {
	case err == sql.ErrNoRows:
		siteID, serr := s.UpsertSite(hostOf(target), nil, nil)
		if serr != nil {
			return 0, serr
		}
		err = s.db.QueryRow(
			`INSERT INTO crawldb.page (site_id, url, html_content, http_status_code, page_type_code, content_hash, content_minhash)
			VALUES ($1, $2, $3, $4, 'HTML', $5, $6) RETURNING id`,
			siteID, raw, string(body), status, contentHash, minhash,
		).Scan(&pageID)
		if err != nil {
			return 0, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
		}
		return pageID, nil
	case err != nil:
		return 0, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}

	if pageType == string(PageTypeDuplicate) {
		_, err = s.db.Exec(`UPDATE crawldb.page SET content_hash = $1 WHERE id = $2`, contentHash, pageID)
		if err != nil {
			return 0, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
		}
		return pageID, nil
	}

	_, err = s.db.Exec(
		`UPDATE crawldb.page
			SET html_content = $1, http_status_code = $2, page_type_code = 'HTML',
				content_hash = $3, content_minhash = $4, accessed_time = NOW()
		WHERE id = $5`,
		string(body), status, contentHash, minhash, pageID,
	)
	if err != nil {
		return 0, &StoreError{Message: raw, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return pageID, nil
}

func (s *PostgresStore) AddLink(fromURL, toURL url.URL) error {
	var fromID, toID int64
	if err := s.db.QueryRow(`SELECT id FROM crawldb.page WHERE url = $1`, fromURL.String()).Scan(&fromID); err != nil {
		return &StoreError{Message: fromURL.String(), Retryable: true, Cause: ErrCauseInvalidInput, Err: err}
	}
	if err := s.db.QueryRow(`SELECT id FROM crawldb.page WHERE url = $1`, toURL.String()).Scan(&toID); err != nil {
		return &StoreError{Message: toURL.String(), Retryable: true, Cause: ErrCauseInvalidInput, Err: err}
	}

	_, err := s.db.Exec(
		`INSERT INTO crawldb.link (from_page, to_page) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		fromID, toID,
	)
	if err != nil {
		return &StoreError{Message: "link insert", Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return nil
}

func (s *PostgresStore) AddImage(pageID int64, filename, contentType string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO crawldb.image (page_id, filename, content_type, data, accessed_time) VALUES ($1, $2, $3, $4, NOW())`,
		pageID, filename, contentType, data,
	)
	if err != nil {
		return &StoreError{Message: filename, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return nil
}

func (s *PostgresStore) AddBinary(pageID int64, typeCode string, data []byte) error {
	_, err := s.db.Exec(`INSERT INTO crawldb.data_type (code) VALUES ($1) ON CONFLICT DO NOTHING`, typeCode)
	if err != nil {
		return &StoreError{Message: typeCode, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}

	_, err = s.db.Exec(
		`INSERT INTO crawldb.page_data (page_id, data_type_code, data) VALUES ($1, $2, $3)`,
		pageID, typeCode, data,
	)
	if err != nil {
		return &StoreError{Message: typeCode, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return nil
}

func (s *PostgresStore) MarkDuplicate(duplicateURL, originalURL url.URL) error {
	var originalID int64
	err := s.db.QueryRow(`SELECT id FROM crawldb.page WHERE url = $1`, originalURL.String()).Scan(&originalID)
	if err != nil {
		return &StoreError{Message: originalURL.String(), Retryable: true, Cause: ErrCauseInvalidInput, Err: err}
	}

	_, err = s.db.Exec(
		`UPDATE crawldb.page SET page_type_code = 'DUPLICATE', html_content = NULL, duplicate_id = $1 WHERE url = $2`,
		originalID, duplicateURL.String(),
	)
	if err != nil {
		return &StoreError{Message: duplicateURL.String(), Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return nil
}

func (s *PostgresStore) FindByHash(contentHash string) (PageRef, bool, error) {
	var ref PageRef
	err := s.db.QueryRow(
		`SELECT id, url FROM crawldb.page
			WHERE content_hash = $1 AND content_hash IS NOT NULL
		ORDER BY id ASC LIMIT 1`,
		contentHash,
	).Scan(&ref.ID, &ref.URL)
	if err == sql.ErrNoRows {
		return PageRef{}, false, nil
	}
	if err != nil {
		return PageRef{}, false, &StoreError{Message: contentHash, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return ref, true, nil
}

func (s *PostgresStore) FindByMinhash(minhash string) (PageRef, bool, error) {
	var ref PageRef
	err := s.db.QueryRow(
		`SELECT id, url FROM crawldb.page
			WHERE content_minhash = $1 AND page_type_code = 'HTML'
		ORDER BY accessed_time ASC LIMIT 1`,
		minhash,
	).Scan(&ref.ID, &ref.URL)
	if err == sql.ErrNoRows {
		return PageRef{}, false, nil
	}
	if err != nil {
		return PageRef{}, false, &StoreError{Message: minhash, Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	return ref, true, nil
}

func (s *PostgresStore) FrontierBatch(limit int) ([]FrontierEntry, error) {
	rows, err := s.db.Query(
		`SELECT url, priority FROM crawldb.page WHERE page_type_code = 'FRONTIER' ORDER BY priority ASC, id ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, &StoreError{Message: "frontier batch", Retryable: true, Cause: ErrCauseQuery, Err: err}
	}
	defer rows.Close()

	var entries []FrontierEntry
	for rows.Next() {
		var raw string
		var priority float64
		if err := rows.Scan(&raw, &priority); err != nil {
			return nil, &StoreError{Message: "scan", Retryable: true, Cause: ErrCauseQuery, Err: err}
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		entries = append(entries, FrontierEntry{URL: *parsed, Priority: priority})
	}
	return entries, rows.Err()
}
