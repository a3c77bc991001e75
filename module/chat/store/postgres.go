package store

import (
	"context"
	"time"

	"MeetChat/data/database/pgutil"
	"MeetChat/module/chat/model"
	"MeetChat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS chat_room (
	room_id              TEXT PRIMARY KEY,
	participant_ids      TEXT[] NOT NULL,
	type                 TEXT NOT NULL,
	activity_id          TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL,
	last_message_at      TIMESTAMPTZ NOT NULL,
	last_message_preview TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chat_participation (
	room_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	joined_at    TIMESTAMPTZ NOT NULL,
	last_read_at TIMESTAMPTZ,
	PRIMARY KEY (room_id, user_id)
);
CREATE INDEX IF NOT EXISTS chat_participation_user_idx ON chat_participation (user_id);
CREATE TABLE IF NOT EXISTS chat_message (
	message_id   TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	content      TEXT NOT NULL,
	message_type TEXT NOT NULL,
	read_by      TEXT[] NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	ts           BIGINT NOT NULL,
	sequence_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_message_room_seq_idx ON chat_message (room_id, sequence_key DESC);
`

// Postgres implements both stores on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Stores() Stores {
	return Stores{Rooms: s, Messages: s, Close: func(context.Context) error { s.pool.Close(); return nil }}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return errors.Wrap(err, "migrate chat schema")
}

func (s *Postgres) CreateRoom(ctx context.Context, room *model.Room) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_room (room_id, participant_ids, type, activity_id, created_at, last_message_at, last_message_preview)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			room.RoomID, room.ParticipantIDs, string(room.Type), room.ActivityID, room.CreatedAt, room.LastMessageAt, room.LastMessagePreview)
		if err != nil {
			if pgutil.IsUniqueViolation(err) {
				return errs.ErrValidation.WrapMsg("room exists", "roomId", room.RoomID)
			}
			return errors.Wrap(err, "insert room")
		}
		batch := &pgx.Batch{}
		for _, uid := range room.ParticipantIDs {
			batch.Queue(`INSERT INTO chat_participation (room_id, user_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				room.RoomID, uid, room.CreatedAt)
		}
		return errors.Wrap(tx.SendBatch(ctx, batch).Close(), "insert participations")
	})
}

const roomColumns = `room_id, participant_ids, type, activity_id, created_at, last_message_at, last_message_preview`

func scanRoom(row pgx.Row) (*model.Room, error) {
	var (
		r  model.Room
		tp string
	)
	if err := row.Scan(&r.RoomID, &r.ParticipantIDs, &tp, &r.ActivityID, &r.CreatedAt, &r.LastMessageAt, &r.LastMessagePreview); err != nil {
		return nil, err
	}
	r.Type = model.RoomType(tp)
	return &r, nil
}

func (s *Postgres) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_room WHERE room_id = $1`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRoomNotFound.WrapMsg("", "roomId", roomID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select room")
	}
	return r, nil
}

func (s *Postgres) ListRooms(ctx context.Context, userID string) ([]model.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roomColumns+` FROM chat_room WHERE $1 = ANY(participant_ids)
		 ORDER BY last_message_at DESC, room_id ASC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select rooms")
	}
	defer rows.Close()
	var out []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		out = append(out, *r)
	}
	return out, errors.Wrap(rows.Err(), "iterate rooms")
}

func (s *Postgres) CountRooms(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_participation WHERE user_id = $1`, userID).Scan(&n)
	return n, errors.Wrap(err, "count rooms")
}

func (s *Postgres) TouchLastMessage(ctx context.Context, roomID string, at time.Time, preview string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_room SET
			last_message_preview = CASE WHEN $2 >= last_message_at THEN $3 ELSE last_message_preview END,
			last_message_at = GREATEST(last_message_at, $2)
		 WHERE room_id = $1`, roomID, at.UTC(), preview)
	if err != nil {
		return errors.Wrap(err, "touch room")
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRoomNotFound.WrapMsg("", "roomId", roomID)
	}
	return nil
}

func (s *Postgres) MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_participation SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
		 WHERE room_id = $1 AND user_id = $2`, roomID, userID, at.UTC())
	if err != nil {
		return false, errors.Wrap(err, "mark room read")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) Participation(ctx context.Context, roomID, userID string) (*model.Participation, error) {
	var (
		p        model.Participation
		lastRead *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, user_id, joined_at, last_read_at FROM chat_participation WHERE room_id = $1 AND user_id = $2`,
		roomID, userID).Scan(&p.RoomID, &p.UserID, &p.JoinedAt, &lastRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("participation", "roomId", roomID, "userId", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select participation")
	}
	if lastRead != nil {
		p.LastReadAt = *lastRead
	}
	return &p, nil
}

func (s *Postgres) Append(ctx context.Context, m *model.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_message (message_id, room_id, sender_id, content, message_type, read_by, created_at, ts, sequence_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.MessageID, m.RoomID, m.SenderID, m.Content, string(m.MessageType), m.ReadBy, m.CreatedAt, m.Timestamp, m.SequenceKey)
	if err != nil {
		if pgutil.IsUniqueViolation(err) {
			return errs.ErrDuplicateMessage.WrapMsg("", "messageId", m.MessageID)
		}
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (s *Postgres) Recent(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, room_id, sender_id, content, message_type, read_by, created_at, ts, sequence_key
		 FROM chat_message WHERE room_id = $1 ORDER BY sequence_key DESC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select messages")
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var (
			m  model.Message
			mt string
		)
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.SenderID, &m.Content, &mt, &m.ReadBy, &m.CreatedAt, &m.Timestamp, &m.SequenceKey); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		m.MessageType = model.MessageType(mt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	reverse(out)
	return out, nil
}

func (s *Postgres) Count(ctx context.Context, roomID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_message WHERE room_id = $1`, roomID).Scan(&n)
	return n, errors.Wrap(err, "count messages")
}

func (s *Postgres) CountUnread(ctx context.Context, roomID, userID string, since time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_message WHERE room_id = $1 AND sender_id <> $2 AND ts > $3`,
		roomID, userID, since.UnixMilli()).Scan(&n)
	return n, errors.Wrap(err, "count unread")
}

func (s *Postgres) MarkMessageRead(ctx context.Context, roomID, messageID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_message SET read_by = array_append(read_by, $3)
		 WHERE room_id = $1 AND message_id = $2 AND NOT ($3 = ANY(read_by))`, roomID, messageID, userID)
	return errors.Wrap(err, "mark message read")
}
