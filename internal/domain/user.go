package domain

import "time"

type User struct {
	ID             int64
	Email          string
	Name           string
	Role           string
	TelegramChatID int64 // notification target, 0 when unset
	CreatedAt      time.Time
}
