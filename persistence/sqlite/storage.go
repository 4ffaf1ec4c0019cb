package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/util"

	_ "modernc.org/sqlite"
)

var _ persistence.Storage = new(Storage)

// Storage is the embedded single-node backend. Cursor updates rely on
// UPDATE ... WHERE version = ? for compare-and-swap.
type Storage struct {
	db           *sql.DB
	cursorCodec  util.EncoderDecoder[model.ExecutionCursor]
	graphCodec   util.EncoderDecoder[model.FlowGraph]
	contactCodec util.EncoderDecoder[model.Contact]
	delayCodec   util.EncoderDecoder[model.DelayTask]
}

func NewStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal=WAL", path))
	if err != nil {
		return nil, err
	}
	s := &Storage{
		db:           db,
		cursorCodec:  util.NewJsonEncoderDecoder[model.ExecutionCursor](),
		graphCodec:   util.NewJsonEncoderDecoder[model.FlowGraph](),
		contactCodec: util.NewJsonEncoderDecoder[model.Contact](),
		delayCodec:   util.NewJsonEncoderDecoder[model.DelayTask](),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			bot_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL,
			PRIMARY KEY (bot_id, contact_id)
		);
		CREATE TABLE IF NOT EXISTS graphs (
			bot_id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			is_default_flow INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (bot_id, graph_id)
		);
		CREATE TABLE IF NOT EXISTS contacts (
			bot_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (bot_id, contact_id)
		);
		CREATE TABLE IF NOT EXISTS delays (
			token TEXT PRIMARY KEY,
			due_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
	)
	return err
}

func (s *Storage) Cursors() persistence.CursorStore    { return (*cursorStore)(s) }
func (s *Storage) Graphs() persistence.GraphRepository { return (*graphRepo)(s) }
func (s *Storage) Contacts() persistence.ContactStore  { return (*contactStore)(s) }
func (s *Storage) Delays() persistence.DelayQueue      { return (*delayQueue)(s) }

func (s *Storage) Close() error {
	return s.db.Close()
}

type cursorStore Storage

func (cs *cursorStore) Get(ctx context.Context, botId, contactId string) (*model.ExecutionCursor, error) {
	s := (*Storage)(cs)
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cursors WHERE bot_id = ? AND contact_id = ?`, botId, contactId).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.cursorCodec.Decode(payload)
}

func (cs *cursorStore) Put(ctx context.Context, cursor *model.ExecutionCursor) (int64, error) {
	s := (*Storage)(cs)
	next := cursor.Clone()
	next.Version = cursor.Version + 1
	next.UpdatedAt = time.Now()
	payload, err := s.cursorCodec.Encode(*next)
	if err != nil {
		return 0, err
	}
	if cursor.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cursors (bot_id, contact_id, payload, version) VALUES (?, ?, ?, ?)`,
			cursor.BotId, cursor.ContactId, payload, next.Version)
		if err != nil {
			return 0, persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
		}
		return next.Version, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cursors SET payload = ?, version = ? WHERE bot_id = ? AND contact_id = ? AND version = ?`,
		payload, next.Version, cursor.BotId, cursor.ContactId, cursor.Version)
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	if affected == 0 {
		return 0, persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
	}
	return next.Version, nil
}

func (cs *cursorStore) Delete(ctx context.Context, botId, contactId string) error {
	s := (*Storage)(cs)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cursors WHERE bot_id = ? AND contact_id = ?`, botId, contactId)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

type graphRepo Storage

func (gr *graphRepo) Save(ctx context.Context, graph *model.FlowGraph, isDefaultFlow bool) error {
	s := (*Storage)(gr)
	payload, err := s.graphCodec.Encode(*graph)
	if err != nil {
		return err
	}
	flag := 0
	if isDefaultFlow {
		flag = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (bot_id, graph_id, payload, is_default_flow, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (bot_id, graph_id) DO UPDATE SET payload = excluded.payload, is_default_flow = excluded.is_default_flow`,
		graph.BotId, graph.Id, payload, flag, graph.CreatedAt.UnixMilli())
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (gr *graphRepo) LoadEntryCandidates(ctx context.Context, botId string) ([]*model.FlowGraph, error) {
	s := (*Storage)(gr)
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM graphs WHERE bot_id = ? AND is_default_flow = 0 ORDER BY created_at ASC`, botId)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var candidates []*model.FlowGraph
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		graph, err := s.graphCodec.Decode(payload)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, graph)
	}
	return candidates, rows.Err()
}

func (gr *graphRepo) GetBlock(ctx context.Context, botId, blockId string) (*model.FlowGraph, error) {
	s := (*Storage)(gr)
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM graphs WHERE bot_id = ? AND graph_id = ?`, botId, blockId).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %s not found for bot %s", blockId, botId)
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.graphCodec.Decode(payload)
}

func (gr *graphRepo) GetDefaultFlow(ctx context.Context, botId string) (*model.FlowGraph, error) {
	s := (*Storage)(gr)
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM graphs WHERE bot_id = ? AND is_default_flow = 1 ORDER BY created_at ASC LIMIT 1`, botId).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.graphCodec.Decode(payload)
}

type contactStore Storage

func (cs *contactStore) GetContact(ctx context.Context, botId, contactId string) (*model.Contact, error) {
	s := (*Storage)(cs)
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM contacts WHERE bot_id = ? AND contact_id = ?`, botId, contactId).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.contactCodec.Decode(payload)
}

func (cs *contactStore) SaveContact(ctx context.Context, contact *model.Contact) error {
	s := (*Storage)(cs)
	payload, err := s.contactCodec.Encode(*contact)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (bot_id, contact_id, payload) VALUES (?, ?, ?)
		 ON CONFLICT (bot_id, contact_id) DO UPDATE SET payload = excluded.payload`,
		contact.BotId, contact.Id, payload)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

type delayQueue Storage

func (dq *delayQueue) Push(ctx context.Context, task model.DelayTask, delay time.Duration) error {
	s := (*Storage)(dq)
	payload, err := s.delayCodec.Encode(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delays (token, due_at, payload) VALUES (?, ?, ?)
		 ON CONFLICT (token) DO UPDATE SET due_at = excluded.due_at, payload = excluded.payload`,
		task.Token, time.Now().Add(delay).UnixMilli(), payload)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dq *delayQueue) PopDue(ctx context.Context, batch int) ([]model.DelayTask, error) {
	s := (*Storage)(dq)
	now := time.Now().UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, payload FROM delays WHERE due_at <= ? ORDER BY due_at ASC LIMIT ?`, now, batch)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var tasks []model.DelayTask
	var tokens []any
	for rows.Next() {
		var token string
		var payload []byte
		if err := rows.Scan(&token, &payload); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		task, err := s.delayCodec.Decode(payload)
		if err != nil {
			continue
		}
		tasks = append(tasks, *task)
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	for _, token := range tokens {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM delays WHERE token = ?`, token); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
	}
	return tasks, nil
}
