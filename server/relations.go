package server

import (
	"errors"
	"log"
	"sync"

	"starmsg/db"
	"starmsg/models"
	"starmsg/protocol"
)

var (
	ErrAlreadyFriends  = errors.New("already friends")
	ErrRequestSent     = errors.New("friend request already sent")
	ErrRequestNotFound = errors.New("friend request not found")
)

// Relations implements the request/accept friendship state machine over
// the friends table. Every mutation of a pair runs under that pair's
// lock, so the two-row accept is never observable half-done.
//
// notify, when set, delivers friend_request/friend_accepted events to a
// reachable identity. It is a callback rather than a Relay dependency.
type Relations struct {
	db     *db.DB
	notify func(target string, ev *protocol.Event)

	mu    sync.Mutex
	pairs map[string]*sync.Mutex
}

func NewRelations(database *db.DB, notify func(target string, ev *protocol.Event)) *Relations {
	return &Relations{
		db:     database,
		notify: notify,
		pairs:  make(map[string]*sync.Mutex),
	}
}

// pairLock returns the mutex for the unordered pair {a, b}.
func (r *Relations) pairLock(a, b string) *sync.Mutex {
	if b < a {
		a, b = b, a
	}
	key := a + "\x00" + b

	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.pairs[key]
	if !ok {
		lock = &sync.Mutex{}
		r.pairs[key] = lock
	}
	return lock
}

// Request creates a pending requester -> target row.
func (r *Relations) Request(requester, target string) error {
	lock := r.pairLock(requester, target)
	lock.Lock()
	defer lock.Unlock()

	// Принятая дружба в любом направлении блокирует новый запрос
	for _, pair := range [][2]string{{requester, target}, {target, requester}} {
		row, err := r.db.GetFriendship(pair[0], pair[1])
		if err != nil && err != db.ErrNoRows {
			return err
		}
		if row != nil && row.Status == models.FriendshipAccepted {
			return ErrAlreadyFriends
		}
	}

	existing, err := r.db.GetFriendship(requester, target)
	if err != nil && err != db.ErrNoRows {
		return err
	}
	if existing != nil && existing.Status == models.FriendshipPending {
		return ErrRequestSent
	}

	// Встречный запрос равносилен принятию уже висящего
	reverse, err := r.db.GetFriendship(target, requester)
	if err != nil && err != db.ErrNoRows {
		return err
	}
	if reverse != nil && reverse.Status == models.FriendshipPending {
		return r.acceptLocked(requester, target)
	}

	if err := r.db.InsertFriendshipIgnore(requester, target, models.FriendshipPending); err != nil {
		return err
	}

	if r.notify != nil {
		r.notify(target, protocol.FriendRequest(requester))
	}
	return nil
}

// Accept transitions the pending requester -> accepter row to accepted
// and mirrors it, making the pair mutual.
func (r *Relations) Accept(accepter, requester string) error {
	lock := r.pairLock(accepter, requester)
	lock.Lock()
	defer lock.Unlock()

	return r.acceptLocked(accepter, requester)
}

// acceptLocked finalizes the pending requester -> accepter row. Caller
// holds the pair lock.
func (r *Relations) acceptLocked(accepter, requester string) error {
	row, err := r.db.GetFriendship(requester, accepter)
	if err == db.ErrNoRows {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	if row.Status != models.FriendshipPending {
		return ErrRequestNotFound
	}

	if err := r.db.UpsertFriendship(requester, accepter, models.FriendshipAccepted); err != nil {
		return err
	}
	if err := r.db.UpsertFriendship(accepter, requester, models.FriendshipAccepted); err != nil {
		return err
	}

	if r.notify != nil {
		r.notify(requester, protocol.FriendAccepted(accepter))
	}
	return nil
}

// AreFriends reports whether an accepted row exists in either direction.
func (r *Relations) AreFriends(a, b string) (bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		row, err := r.db.GetFriendship(pair[0], pair[1])
		if err != nil && err != db.ErrNoRows {
			return false, err
		}
		if row != nil && row.Status == models.FriendshipAccepted {
			return true, nil
		}
	}
	return false, nil
}

// List derives the accepted/outgoing/incoming sets for identity from
// its relationship rows.
func (r *Relations) List(identity string) (*models.RelationshipList, error) {
	rows, err := r.db.ListFriendships(identity)
	if err != nil {
		return nil, err
	}

	list := &models.RelationshipList{}
	seen := make(map[string]bool)

	for _, row := range rows {
		switch {
		case row.Requester == identity && row.Status == models.FriendshipAccepted:
			// Зеркальная строка даёт ту же пару второй раз
			if !seen[row.Target] {
				seen[row.Target] = true
				list.Accepted = append(list.Accepted, row.Target)
			}
		case row.Target == identity && row.Status == models.FriendshipAccepted:
			if !seen[row.Requester] {
				seen[row.Requester] = true
				list.Accepted = append(list.Accepted, row.Requester)
			}
		case row.Requester == identity && row.Status == models.FriendshipPending:
			list.OutgoingPending = append(list.OutgoingPending, row.Target)
		case row.Target == identity && row.Status == models.FriendshipPending:
			list.IncomingPending = append(list.IncomingPending, row.Requester)
		default:
			log.Printf("[friends] unexpected friendship row %s->%s status %q", row.Requester, row.Target, row.Status)
		}
	}

	return list, nil
}
