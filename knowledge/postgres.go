package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const activeGroupKey = "active_group_id"

// PostgresPersister mirrors group mutations into Postgres so the knowledge
// base survives restarts.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

func NewPostgresPersister(pool *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{pool: pool}
}

var _ Persister = (*PostgresPersister)(nil)

func (p *PostgresPersister) LoadGroups(ctx context.Context) ([]Group, string, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name FROM kb_groups ORDER BY position")
	if err != nil {
		return nil, "", fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	index := map[string]int{}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, "", fmt.Errorf("scan group: %w", err)
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate groups: %w", err)
	}

	urlRows, err := p.pool.Query(ctx, "SELECT group_id, url, title FROM kb_urls ORDER BY position")
	if err != nil {
		return nil, "", fmt.Errorf("load urls: %w", err)
	}
	defer urlRows.Close()

	for urlRows.Next() {
		var groupID string
		var u KnowledgeURL
		if err := urlRows.Scan(&groupID, &u.URL, &u.Title); err != nil {
			return nil, "", fmt.Errorf("scan url: %w", err)
		}
		if i, ok := index[groupID]; ok {
			groups[i].URLs = append(groups[i].URLs, u)
		}
	}
	if err := urlRows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate urls: %w", err)
	}

	docRows, err := p.pool.Query(ctx, "SELECT group_id, id, name, content FROM kb_documents ORDER BY position")
	if err != nil {
		return nil, "", fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	for docRows.Next() {
		var groupID string
		var d Document
		if err := docRows.Scan(&groupID, &d.ID, &d.Name, &d.Content); err != nil {
			return nil, "", fmt.Errorf("scan document: %w", err)
		}
		if i, ok := index[groupID]; ok {
			groups[i].Documents = append(groups[i].Documents, d)
		}
	}
	if err := docRows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate documents: %w", err)
	}

	var activeID string
	err = p.pool.QueryRow(ctx, "SELECT value FROM kb_settings WHERE key = $1", activeGroupKey).Scan(&activeID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", fmt.Errorf("load active group: %w", err)
	}

	return groups, activeID, nil
}

func (p *PostgresPersister) SaveGroup(ctx context.Context, group Group) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kb_groups (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`,
		group.ID, group.Name)
	if err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

func (p *PostgresPersister) DeleteGroup(ctx context.Context, groupID string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM kb_groups WHERE id = $1", groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

func (p *PostgresPersister) SaveActiveGroup(ctx context.Context, groupID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kb_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		activeGroupKey, groupID)
	if err != nil {
		return fmt.Errorf("save active group: %w", err)
	}
	return nil
}

func (p *PostgresPersister) AddURL(ctx context.Context, groupID string, u KnowledgeURL) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kb_urls (group_id, url, title) VALUES ($1, $2, $3)
		 ON CONFLICT (group_id, url) DO NOTHING`,
		groupID, u.URL, u.Title)
	if err != nil {
		return fmt.Errorf("add url: %w", err)
	}
	return nil
}

func (p *PostgresPersister) RemoveURL(ctx context.Context, groupID, rawURL string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM kb_urls WHERE group_id = $1 AND url = $2", groupID, rawURL)
	if err != nil {
		return fmt.Errorf("remove url: %w", err)
	}
	return nil
}

func (p *PostgresPersister) AddDocument(ctx context.Context, groupID string, doc Document) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO kb_documents (id, group_id, name, content) VALUES ($1, $2, $3, $4)",
		doc.ID, groupID, doc.Name, doc.Content)
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (p *PostgresPersister) RemoveDocument(ctx context.Context, groupID, docID string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM kb_documents WHERE group_id = $1 AND id = $2", groupID, docID)
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}
