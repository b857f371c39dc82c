package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Backend = (*Postgres)(nil)

// OpenDB opens a pgx-backed *sql.DB with pool settings suited to the API.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Postgres stores documents in the records table created by the migrations.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx,
		`select body from records where collection=$1 and id=$2`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return body, err
}

func (p *Postgres) Put(ctx context.Context, collection, id string, body []byte) error {
	_, err := p.db.ExecContext(ctx, `
		insert into records(collection, id, body) values($1,$2,$3)
		on conflict (collection, id) do update
		set body = excluded.body, updated_at = now()
	`, collection, id, body)
	return err
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	res, err := p.db.ExecContext(ctx, `delete from records where collection=$1 and id=$2`, collection, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, collection string) ([][]byte, error) {
	rows, err := p.db.QueryContext(ctx, `select body from records where collection=$1 order by seq`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }
