package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lanmsg/internal/storage/zapadapter"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotExist       = errors.New("user does not exist")
	ErrMessageBadSender   = errors.New("bad sender id")
	ErrMessageBadReceiver = errors.New("bad receiver id")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool, ensures the
// schema exists and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	s := &Store{
		logger: logger,
		db:     pool,
	}

	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// init creates tables on startup if they are not present yet
func (s *Store) init(ctx context.Context) error {
	queries := []string{
		`create table if not exists users (
			id bigserial primary key,
			username text not null unique,
			is_online boolean not null default false,
			created_at timestamptz not null
		)`,
		`create table if not exists messages (
			id bigserial primary key,
			sender_id bigint not null references users (id),
			receiver_id bigint not null references users (id),
			message_type text not null,
			content text not null,
			created_at timestamptz not null
		)`,
		`create index if not exists messages_pair_idx
			on messages (sender_id, receiver_id, created_at)`,
	}

	for _, sql := range queries {
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return err
		}
	}

	return nil
}

// Close releases the underlying connection pool
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates user and returns its id.
func (s *Store) CreateUser(ctx context.Context, username string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", username)

	var id int64
	sql := "insert into users (username, created_at) values ($1, $2) returning id"
	err := s.db.QueryRow(ctx, sql, username, time.Now()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return 0, ErrUserExists
			}
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, id)

	return id, nil
}

// UserByID returns a single user record
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	sql := "select id, username, is_online, created_at from users where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&u.ID, &u.Username, &u.Online, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	return u, nil
}

// Users returns all registered users ordered by id
func (s *Store) Users(ctx context.Context) ([]User, error) {
	sql := "select id, username, is_online, created_at from users order by id asc"
	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		err = rows.Scan(&u.ID, &u.Username, &u.Online, &u.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return users, nil
}

// SetOnline flips the online flag of a single user
func (s *Store) SetOnline(ctx context.Context, id int64, online bool) error {
	tag, err := s.db.Exec(ctx, "update users set is_online = $2 where id = $1", id, online)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}

	return nil
}

// ResetPresence marks every user offline and returns the number of updated
// records. Called on startup: a crashed process leaves stale online flags
// behind with no live connection to match them.
func (s *Store) ResetPresence(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, "update users set is_online = false where is_online")
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// CreateMessage appends a message to the log and returns its assigned id
// and timestamp
func (s *Store) CreateMessage(ctx context.Context, sender, receiver int64, msgType, content string) (int64, time.Time, error) {
	s.logger.Debugf("Creating message from user (id: %d) to user (id: %d)", sender, receiver)

	var id int64
	createdAt := time.Now()
	sql := `insert into messages (sender_id, receiver_id, message_type, content, created_at)
			values ($1, $2, $3, $4, $5) returning id`
	err := s.db.QueryRow(ctx, sql, sender, receiver, msgType, content, createdAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				switch pgErr.ConstraintName {
				case "messages_sender_id_fkey":
					return 0, time.Time{}, ErrMessageBadSender
				case "messages_receiver_id_fkey":
					return 0, time.Time{}, ErrMessageBadReceiver
				}
			}
		}
		return 0, time.Time{}, err
	}

	return id, createdAt, nil
}

// MessagesBetween returns all messages exchanged between two users in either
// direction, sorted by message creation time (from earliest to latest) with
// sender and receiver records attached
func (s *Store) MessagesBetween(ctx context.Context, userA, userB int64) ([]Message, error) {
	s.logger.Debugf("Retrieving messages between users (ids: %d, %d)", userA, userB)

	// check if both users exist
	for _, id := range []int64{userA, userB} {
		var i int8
		err := s.db.QueryRow(ctx, "select 1 from users where id = $1", id).Scan(&i)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrUserNotExist
			}
			return nil, err
		}
	}

	sql := `select m.id,
				   m.sender_id,
				   m.receiver_id,
				   m.message_type,
				   m.content,
				   m.created_at,
				   jsonb_build_object('id', s.id, 'username', s.username,
									  'is_online', s.is_online, 'created_at', s.created_at),
				   jsonb_build_object('id', r.id, 'username', r.username,
									  'is_online', r.is_online, 'created_at', r.created_at)
			  from messages m
			  join users s on s.id = m.sender_id
			  join users r on r.id = m.receiver_id
			 where (m.sender_id = $1 and m.receiver_id = $2)
				or (m.sender_id = $2 and m.receiver_id = $1)
			 order by m.created_at asc, m.id asc`

	rows, err := s.db.Query(ctx, sql, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			m            Message
			senderJSON   pgtype.JSONB
			receiverJSON pgtype.JSONB
		)
		err = rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Type, &m.Content, &m.CreatedAt,
			&senderJSON, &receiverJSON)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(senderJSON.Bytes, &m.Sender); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(receiverJSON.Bytes, &m.Receiver); err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}
