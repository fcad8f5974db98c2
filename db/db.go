package db

import (
	"database/sql"
	"errors"
	"time"

	"starmsg/models"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var ErrNoRows = errors.New("no rows found")

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			requester TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			PRIMARY KEY (requester, target)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT NOT NULL,
			media TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_target ON friends(target)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// User methods

func (db *DB) CreateUser(username, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	res, err := db.conn.Exec(
		"INSERT INTO users (username, password) VALUES (?, ?)",
		username, string(hashed),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) AuthenticateUser(username, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) UserExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) GetUser(username string) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRow(
		"SELECT id, username, avatar FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &u.Avatar)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers returns users whose username contains query, excluding
// the searching user.
func (db *DB) SearchUsers(query, exclude string) ([]models.User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, avatar FROM users WHERE username LIKE ? AND username != ?",
		"%"+query+"%", exclude,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Avatar); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *DB) SetAvatar(username, avatar string) error {
	result, err := db.conn.Exec("UPDATE users SET avatar = ? WHERE username = ?", avatar, username)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNoRows
	}

	return nil
}

// Friendship methods

// GetFriendship returns the directed row requester -> target, or
// ErrNoRows if no such row exists.
func (db *DB) GetFriendship(requester, target string) (*models.Friendship, error) {
	var f models.Friendship
	err := db.conn.QueryRow(
		"SELECT requester, target, status FROM friends WHERE requester = ? AND target = ?",
		requester, target,
	).Scan(&f.Requester, &f.Target, &f.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// InsertFriendshipIgnore inserts a directed row, silently keeping the
// existing one on conflict. Идемпотентно для одновременных вставок
// одной и той же пары.
func (db *DB) InsertFriendshipIgnore(requester, target, status string) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO friends (requester, target, status) VALUES (?, ?, ?)",
		requester, target, status,
	)
	return err
}

// UpsertFriendship inserts a directed row or overwrites its status.
func (db *DB) UpsertFriendship(requester, target, status string) error {
	_, err := db.conn.Exec(
		`INSERT INTO friends (requester, target, status) VALUES (?, ?, ?)
		 ON CONFLICT(requester, target) DO UPDATE SET status = excluded.status`,
		requester, target, status,
	)
	return err
}

// ListFriendships returns every row the identity participates in, as
// requester or as target.
func (db *DB) ListFriendships(identity string) ([]models.Friendship, error) {
	rows, err := db.conn.Query(
		"SELECT requester, target, status FROM friends WHERE requester = ? OR target = ?",
		identity, identity,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friendships []models.Friendship
	for rows.Next() {
		var f models.Friendship
		if err := rows.Scan(&f.Requester, &f.Target, &f.Status); err != nil {
			return nil, err
		}
		friendships = append(friendships, f)
	}

	return friendships, rows.Err()
}

// Message methods

func (db *DB) SaveMessage(sender, recipient, text, media string, timestamp time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, text, media, timestamp) VALUES (?, ?, ?, ?, ?)",
		sender, recipient, text, media, timestamp.Format(time.RFC3339),
	)
	return err
}

func (db *DB) GetMessages(owner, contact string, offset, limit int) ([]models.Message, error) {
	query := `
		SELECT id, sender, recipient, text, media, timestamp
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY timestamp ASC
		LIMIT ? OFFSET ?
	`

	rows, err := db.conn.Query(query, owner, contact, contact, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var timestampStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.Media, &timestampStr); err != nil {
			return nil, err
		}

		timestamp, err := time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, err
		}
		m.Timestamp = timestamp

		messages = append(messages, m)
	}

	return messages, rows.Err()
}
