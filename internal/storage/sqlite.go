package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/undarez/synexa-sub003/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'owner',
			telegram_chat_id INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			provider TEXT NOT NULL,
			external_id TEXT DEFAULT '',
			bridge_address TEXT DEFAULT '',
			credentials TEXT DEFAULT '',
			room TEXT DEFAULT '',
			last_seen_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_provider ON devices(provider)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			notes TEXT DEFAULT '',
			rule TEXT NOT NULL,
			is_active INTEGER DEFAULT 1,
			last_sent DATETIME,
			next_run DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_next_run ON reminders(next_run)`,
		`CREATE TABLE IF NOT EXISTS routines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT DEFAULT '',
			is_active INTEGER DEFAULT 1,
			trigger_type TEXT NOT NULL DEFAULT 'MANUAL',
			trigger_data TEXT DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routines_user_id ON routines(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_routines_trigger ON routines(trigger_type)`,
		`CREATE TABLE IF NOT EXISTS routine_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			routine_id INTEGER NOT NULL,
			step_order INTEGER NOT NULL,
			action_type TEXT NOT NULL,
			device_id INTEGER REFERENCES devices(id),
			payload TEXT DEFAULT '{}',
			delay_seconds INTEGER DEFAULT 0,
			FOREIGN KEY (routine_id) REFERENCES routines(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routine_steps_routine ON routine_steps(routine_id, step_order)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

func (s *Storage) CreateUser(u *domain.User) error {
	res, err := s.db.Exec(
		`INSERT INTO users (email, name, role, telegram_chat_id) VALUES (?, ?, ?, ?)`,
		u.Email, u.Name, u.Role, u.TelegramChatID,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetUserByID(id int64) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT id, email, name, role, telegram_chat_id, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.TelegramChatID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Storage) GetUserByEmail(email string) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT id, email, name, role, telegram_chat_id, created_at FROM users WHERE email = ?`,
		email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.TelegramChatID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// EnsureUser returns the user with the given email, creating it first if needed.
func (s *Storage) EnsureUser(email, name string, telegramChatID int64) (*domain.User, error) {
	u, err := s.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	u = &domain.User{Email: email, Name: name, Role: "owner", TelegramChatID: telegramChatID}
	if err := s.CreateUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Storage) ListUsers() ([]*domain.User, error) {
	rows, err := s.db.Query(`SELECT id, email, name, role, telegram_chat_id, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.TelegramChatID, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// === Devices ===

func (s *Storage) CreateDevice(d *domain.Device) error {
	res, err := s.db.Exec(
		`INSERT INTO devices (user_id, name, provider, external_id, bridge_address, credentials, room)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.Name, d.Provider, d.ExternalID, d.BridgeAddress, d.Credentials, d.Room,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	d.ID = id
	d.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetDevice(id int64) (*domain.Device, error) {
	d := &domain.Device{}
	err := s.db.QueryRow(
		`SELECT id, user_id, name, provider, external_id, bridge_address, credentials, room, last_seen_at, created_at
		 FROM devices WHERE id = ?`,
		id,
	).Scan(&d.ID, &d.UserID, &d.Name, &d.Provider, &d.ExternalID, &d.BridgeAddress, &d.Credentials, &d.Room, &d.LastSeenAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *Storage) ListDevicesByUser(userID int64) ([]*domain.Device, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, provider, external_id, bridge_address, credentials, room, last_seen_at, created_at
		 FROM devices WHERE user_id = ? ORDER BY room, name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		d := &domain.Device{}
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Provider, &d.ExternalID, &d.BridgeAddress, &d.Credentials, &d.Room, &d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *Storage) DeleteDevice(id int64) error {
	_, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	return err
}

// TouchDevice records that a device was addressed by a command. Courtesy
// signal for the device list, not load-bearing.
func (s *Storage) TouchDevice(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE devices SET last_seen_at = ? WHERE id = ?`, at, id)
	return err
}

// === Reminders ===

func (s *Storage) CreateReminder(r *domain.Reminder) error {
	res, err := s.db.Exec(
		`INSERT INTO reminders (user_id, title, notes, rule, is_active, next_run) VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Title, r.Notes, domain.FormatRule(r.Rule), r.IsActive, r.NextRun,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.ID = id
	r.CreatedAt = time.Now()
	return nil
}

func (s *Storage) scanReminder(row interface{ Scan(...any) error }) (*domain.Reminder, error) {
	r := &domain.Reminder{}
	var rule string
	err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Notes, &rule, &r.IsActive, &r.LastSent, &r.NextRun, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := domain.ParseRule(rule)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	r.Rule = parsed
	return r, nil
}

const reminderColumns = `id, user_id, title, notes, rule, is_active, last_sent, next_run, created_at`

func (s *Storage) GetReminder(id int64) (*domain.Reminder, error) {
	r, err := s.scanReminder(s.db.QueryRow(
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *Storage) ListRemindersByUser(userID int64) ([]*domain.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY next_run IS NULL, next_run`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*domain.Reminder
	for rows.Next() {
		r, err := s.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// ListDueReminders returns active reminders whose next run is at or before now.
func (s *Storage) ListDueReminders(now time.Time) ([]*domain.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE is_active = 1 AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*domain.Reminder
	for rows.Next() {
		r, err := s.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Storage) UpdateReminderNextRun(id int64, sentAt, nextRun time.Time) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET last_sent = ?, next_run = ? WHERE id = ?`,
		sentAt, nextRun, id,
	)
	return err
}

// DeactivateReminder stops a reminder whose recurrence has ended.
func (s *Storage) DeactivateReminder(id int64, sentAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET is_active = 0, last_sent = ?, next_run = NULL WHERE id = ?`,
		sentAt, id,
	)
	return err
}

func (s *Storage) DeleteReminder(id int64) error {
	_, err := s.db.Exec(`DELETE FROM reminders WHERE id = ?`, id)
	return err
}

// === Routines ===

// CreateRoutine persists a routine and its normalized step list in one
// transaction.
func (s *Storage) CreateRoutine(r *domain.Routine) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO routines (user_id, name, description, is_active, trigger_type, trigger_data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Name, r.Description, r.IsActive, r.TriggerType, r.TriggerData,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.ID = id
	r.CreatedAt = time.Now()

	if err := insertSteps(tx, id, r.Steps); err != nil {
		return err
	}
	for i := range r.Steps {
		r.Steps[i].RoutineID = id
	}
	return tx.Commit()
}

func insertSteps(tx *sql.Tx, routineID int64, steps []domain.RoutineStep) error {
	for _, st := range steps {
		payload, err := json.Marshal(st.Payload)
		if err != nil {
			return fmt.Errorf("marshal step payload: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO routine_steps (routine_id, step_order, action_type, device_id, payload, delay_seconds)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			routineID, st.Order, st.ActionType, st.DeviceID, string(payload), st.DelaySeconds,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) GetRoutine(id int64) (*domain.Routine, error) {
	r := &domain.Routine{}
	err := s.db.QueryRow(
		`SELECT id, user_id, name, description, is_active, trigger_type, trigger_data, created_at
		 FROM routines WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.UserID, &r.Name, &r.Description, &r.IsActive, &r.TriggerType, &r.TriggerData, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	steps, err := s.ListSteps(id)
	if err != nil {
		return nil, err
	}
	r.Steps = steps
	return r, nil
}

func (s *Storage) ListRoutinesByUser(userID int64) ([]*domain.Routine, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, description, is_active, trigger_type, trigger_data, created_at
		 FROM routines WHERE user_id = ? ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routines []*domain.Routine
	for rows.Next() {
		r := &domain.Routine{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Description, &r.IsActive, &r.TriggerType, &r.TriggerData, &r.CreatedAt); err != nil {
			return nil, err
		}
		routines = append(routines, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range routines {
		steps, err := s.ListSteps(r.ID)
		if err != nil {
			return nil, err
		}
		r.Steps = steps
	}
	return routines, nil
}

// ListScheduledRoutines returns active routines with a SCHEDULE trigger.
func (s *Storage) ListScheduledRoutines() ([]*domain.Routine, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, description, is_active, trigger_type, trigger_data, created_at
		 FROM routines WHERE is_active = 1 AND trigger_type = ? ORDER BY id`,
		domain.TriggerSchedule,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routines []*domain.Routine
	for rows.Next() {
		r := &domain.Routine{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Description, &r.IsActive, &r.TriggerType, &r.TriggerData, &r.CreatedAt); err != nil {
			return nil, err
		}
		routines = append(routines, r)
	}
	return routines, rows.Err()
}

func (s *Storage) ListSteps(routineID int64) ([]domain.RoutineStep, error) {
	rows, err := s.db.Query(
		`SELECT id, routine_id, step_order, action_type, device_id, payload, delay_seconds
		 FROM routine_steps WHERE routine_id = ? ORDER BY step_order`,
		routineID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.RoutineStep
	for rows.Next() {
		var st domain.RoutineStep
		var payload string
		if err := rows.Scan(&st.ID, &st.RoutineID, &st.Order, &st.ActionType, &st.DeviceID, &payload, &st.DelaySeconds); err != nil {
			return nil, err
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &st.Payload); err != nil {
				return nil, fmt.Errorf("step %d payload: %w", st.ID, err)
			}
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ReplaceSteps swaps a routine's step list wholesale. The core has no partial
// step CRUD; edits always rewrite the whole list.
func (s *Storage) ReplaceSteps(routineID int64, steps []domain.RoutineStep) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM routine_steps WHERE routine_id = ?`, routineID); err != nil {
		return err
	}
	if err := insertSteps(tx, routineID, steps); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) UpdateRoutine(r *domain.Routine) error {
	_, err := s.db.Exec(
		`UPDATE routines SET name = ?, description = ?, is_active = ?, trigger_type = ?, trigger_data = ? WHERE id = ?`,
		r.Name, r.Description, r.IsActive, r.TriggerType, r.TriggerData, r.ID,
	)
	return err
}

func (s *Storage) DeleteRoutine(id int64) error {
	_, err := s.db.Exec(`DELETE FROM routines WHERE id = ?`, id)
	return err
}
