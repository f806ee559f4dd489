package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabasePath string
	Timezone     *time.Location
	ServerPort   string

	APIUsername string
	APIPassword string

	OwnerEmail string
	OwnerName  string

	// Optional Telegram notification channel.
	TelegramToken  string
	TelegramChatID int64

	// Optional CalDAV target for agenda publishing.
	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string

	DigestTime string // "HH:MM" daily agenda digest
	LogLevel   string
}

func Load() (*Config, error) {
	apiUser := os.Getenv("API_USERNAME")
	apiPass := os.Getenv("API_PASSWORD")
	if apiUser == "" || apiPass == "" {
		return nil, fmt.Errorf("API_USERNAME and API_PASSWORD are required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/synexa.db"
	}

	tzName := os.Getenv("TIMEZONE")
	if tzName == "" {
		tzName = "UTC"
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	ownerEmail := os.Getenv("OWNER_EMAIL")
	if ownerEmail == "" {
		ownerEmail = "owner@synexa.local"
	}
	ownerName := os.Getenv("OWNER_NAME")
	if ownerName == "" {
		ownerName = "Owner"
	}

	var chatID int64
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		chatID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}

	digestTime := os.Getenv("DIGEST_TIME")
	if digestTime == "" {
		digestTime = "08:00"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		DatabasePath:   dbPath,
		Timezone:       tz,
		ServerPort:     serverPort,
		APIUsername:    apiUser,
		APIPassword:    apiPass,
		OwnerEmail:     ownerEmail,
		OwnerName:      ownerName,
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: chatID,
		CalDAVURL:      os.Getenv("CALDAV_URL"),
		CalDAVUsername: os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword: os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar: os.Getenv("CALDAV_CALENDAR"),
		DigestTime:     digestTime,
		LogLevel:       logLevel,
	}, nil
}

// NotifyEnabled reports whether the Telegram channel is fully configured.
func (c *Config) NotifyEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// CalDAVEnabled reports whether agenda publishing is configured.
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVUsername != "" && c.CalDAVPassword != "" && c.CalDAVCalendar != ""
}
