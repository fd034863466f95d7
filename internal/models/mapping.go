package models

import "time"

// MessageMapping correlates a synced message's identifier on its origin
// platform with the identifier it received on the destination platform.
// A mapping is recorded only after a successful dispatch and removed when
// the origin message is recalled and the delete has propagated.
type MessageMapping struct {
	ID             int64     `db:"id"`
	SourcePlatform Platform  `db:"source_platform"`
	SourceID       string    `db:"source_id"`
	DestPlatform   Platform  `db:"dest_platform"`
	DestID         string    `db:"dest_id"`
	ChatID         string    `db:"chat_id"`
	CreatedAt      time.Time `db:"created_at"`
}
