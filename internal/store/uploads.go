package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
)

type serverRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	Protocol      string `db:"protocol"`
	Settings      string `db:"settings"`
	UploadEnabled bool   `db:"upload_enabled"`
	OutputFormat  string `db:"output_format"`
}

func (r serverRow) toServer() (models.Server, error) {
	settings := map[string]string{}
	if r.Settings != "" {
		if err := json.Unmarshal([]byte(r.Settings), &settings); err != nil {
			return models.Server{}, fmt.Errorf("store: server %d: decode settings: %w", r.ID, err)
		}
	}
	return models.Server{
		ID:            r.ID,
		Name:          r.Name,
		Protocol:      r.Protocol,
		Settings:      settings,
		UploadEnabled: r.UploadEnabled,
		OutputFormat:  r.OutputFormat,
	}, nil
}

func toServerRow(s *models.Server) (serverRow, error) {
	settings := s.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return serverRow{}, fmt.Errorf("store: encode settings: %w", err)
	}
	return serverRow{
		ID:            s.ID,
		Name:          s.Name,
		Protocol:      s.Protocol,
		Settings:      string(raw),
		UploadEnabled: s.UploadEnabled,
		OutputFormat:  s.OutputFormat,
	}, nil
}

// ListServers returns servers ordered by id. With enabledOnly set, servers
// whose uploads are disabled are skipped.
func (s queries) ListServers(ctx context.Context, enabledOnly bool) ([]models.Server, error) {
	query := `SELECT * FROM servers ORDER BY id`
	if enabledOnly {
		query = `SELECT * FROM servers WHERE upload_enabled = 1 ORDER BY id`
	}
	var rows []serverRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query); err != nil {
		return nil, fmt.Errorf("store: list servers: %w", classify(err))
	}
	out := make([]models.Server, 0, len(rows))
	for _, r := range rows {
		srv, err := r.toServer()
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

// GetServer returns one server or apperr.ErrNotFound.
func (s queries) GetServer(ctx context.Context, id int64) (*models.Server, error) {
	var row serverRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM servers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get server: %w", classify(err))
	}
	srv, err := row.toServer()
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// InsertServer adds srv and sets its id. A duplicate name yields apperr.ErrAlreadyExists.
func (s queries) InsertServer(ctx context.Context, srv *models.Server) error {
	row, err := toServerRow(srv)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO servers (name, protocol, settings, upload_enabled, output_format)
		VALUES (:name, :protocol, :settings, :upload_enabled, :output_format)
	`, row)
	if err != nil {
		err = classify(err)
		if errors.Is(err, apperr.ErrConstraint) {
			return fmt.Errorf("store: server %q: %w", srv.Name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("store: insert server: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: last insert id: %w", classify(err))
	}
	srv.ID = id
	return nil
}

// UpdateServer overwrites every column of an existing server.
func (s queries) UpdateServer(ctx context.Context, srv *models.Server) error {
	row, err := toServerRow(srv)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, s.q, `
		UPDATE servers
		SET name = :name, protocol = :protocol, settings = :settings,
		    upload_enabled = :upload_enabled, output_format = :output_format
		WHERE id = :id
	`, row)
	if err != nil {
		err = classify(err)
		if errors.Is(err, apperr.ErrConstraint) {
			return fmt.Errorf("store: server %q: %w", srv.Name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("store: update server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", classify(err))
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteServer removes a server and its upload records.
func (s queries) DeleteServer(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM uploads WHERE server_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete server uploads: %w", classify(err))
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete server: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", classify(err))
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetOutputFormat changes the format image clips are converted to on upload.
func (s queries) SetOutputFormat(ctx context.Context, id int64, format string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE servers SET output_format = ? WHERE id = ?`, format, id)
	if err != nil {
		return fmt.Errorf("store: set output format: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", classify(err))
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetUploadEnabled toggles whether uploads to the server are allowed.
func (s queries) SetUploadEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE servers SET upload_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("store: set upload enabled: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", classify(err))
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type uploadRow struct {
	ID        int64  `db:"id"`
	ClipID    int64  `db:"clip_id"`
	ServerID  int64  `db:"server_id"`
	URL       string `db:"url"`
	CreatedAt int64  `db:"created_at"`
}

// InsertUpload records that a clip was published to a server.
func (s queries) InsertUpload(ctx context.Context, u *models.Upload) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO uploads (clip_id, server_id, url, created_at)
		VALUES (:clip_id, :server_id, :url, :created_at)
	`, uploadRow{ClipID: u.ClipID, ServerID: u.ServerID, URL: u.URL, CreatedAt: stamp(u.CreatedAt)})
	if err != nil {
		err = classify(err)
		if errors.Is(err, apperr.ErrConstraint) {
			return fmt.Errorf("store: upload of clip %d to server %d: %w", u.ClipID, u.ServerID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: insert upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: last insert id: %w", classify(err))
	}
	u.ID = id
	return nil
}

// UploadsOf lists the upload records of one clip, oldest first.
func (s queries) UploadsOf(ctx context.Context, clipID int64) ([]models.Upload, error) {
	var rows []uploadRow
	if err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT * FROM uploads WHERE clip_id = ? ORDER BY id`, clipID); err != nil {
		return nil, fmt.Errorf("store: uploads of clip %d: %w", clipID, classify(err))
	}
	out := make([]models.Upload, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Upload{
			ID:        r.ID,
			ClipID:    r.ClipID,
			ServerID:  r.ServerID,
			URL:       r.URL,
			CreatedAt: fromStamp(r.CreatedAt),
		})
	}
	return out, nil
}
