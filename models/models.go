package models

import "time"

type User struct {
	ID       int64
	Username string
	Password string // hashed
	Avatar   string // относительный путь к файлу аватара, пусто если не задан
}

// Friendship statuses
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is a directed relationship row. Once accepted, the mirror
// row (Target -> Requester) is guaranteed to exist with the same status.
type Friendship struct {
	Requester string
	Target    string
	Status    string // "pending" or "accepted"
}

type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Text      string
	Media     string // ссылка на загруженный файл, пусто для текстовых сообщений
	Timestamp time.Time
}

// RelationshipList groups every relationship an identity participates in.
type RelationshipList struct {
	Accepted        []string
	OutgoingPending []string
	IncomingPending []string
}
